package claudeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ralph-tui/ralph-tui/internal/merge"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

const resolverSystemPrompt = `You are a merge conflict resolver. Understand the INTENT of each change, not just the text.

When resolving conflicts:
1. Analyze what each side is trying to accomplish, using the common ancestor as a baseline.
2. Preserve the intent of both changes when possible.
3. If changes are truly incompatible, favor the change that maintains correctness.
4. Ensure the merged result compiles and stays logically consistent.
5. Return only the JSON object described below, no other text.`

// NewResolver builds a merge.Resolver (spec.md §4.8) that asks client
// to resolve each conflicted file independently, grounded on the
// teacher's Runner.Merge: same system prompt and three-way JSON
// contract, generalized from a two-branch diff pair to the core's own
// per-file FileConflict/ConflictResolutionResult shapes.
func NewResolver(client *Client) merge.Resolver {
	return func(ctx context.Context, conflicts []models.FileConflict) ([]models.ConflictResolutionResult, error) {
		results := make([]models.ConflictResolutionResult, 0, len(conflicts))
		for _, c := range conflicts {
			res, err := resolveOne(ctx, client, c)
			if err != nil {
				res = models.ConflictResolutionResult{FilePath: c.FilePath, Success: false, Error: err}
			}
			results = append(results, res)
		}
		return results, nil
	}
}

func resolveOne(ctx context.Context, client *Client, c models.FileConflict) (models.ConflictResolutionResult, error) {
	userPrompt := fmt.Sprintf(`Resolve the conflict in %s.

Common ancestor version:
%s

Our version (the integration branch):
%s

Their version (the incoming worker branch):
%s

Return ONLY a JSON object with this exact structure (no other text):
{
  "resolved_content": "the full resolved file content",
  "reasoning": "brief explanation of how the conflict was resolved"
}`, c.FilePath, c.Base, c.Ours, c.Theirs)

	resp, err := client.sdk().Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(client.Model("")),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: resolverSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return models.ConflictResolutionResult{}, fmt.Errorf("resolving %s: %w", c.FilePath, err)
	}

	text := textContent(resp.Content)
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return models.ConflictResolutionResult{}, fmt.Errorf("resolving %s: no JSON object in response", c.FilePath)
	}

	var parsed struct {
		ResolvedContent string `json:"resolved_content"`
		Reasoning       string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &parsed); err != nil {
		return models.ConflictResolutionResult{}, fmt.Errorf("resolving %s: parsing response: %w", c.FilePath, err)
	}

	return models.ConflictResolutionResult{
		FilePath:        c.FilePath,
		Success:         true,
		Method:          models.ResolutionMethodAI,
		ResolvedContent: parsed.ResolvedContent,
	}, nil
}
