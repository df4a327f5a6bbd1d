package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cardio-risk-server/internal/domain"
)

// jsonResult renders v as the text content of a successful tool result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

// errorResult reports err to the client as a tool error rather than a protocol error,
// so the model sees which field or state was wrong.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: errorMessage(err)}},
	}
}

func errorMessage(err error) string {
	var validationErr *domain.ValidationError
	var schemaErr *domain.SchemaViolation
	switch {
	case errors.As(err, &validationErr):
		return fmt.Sprintf("invalid %s: %s", validationErr.Field, validationErr.Message)
	case errors.As(err, &schemaErr):
		return "internal error: assessment record failed validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	case errors.Is(err, domain.ErrModelUnavailable):
		return "risk model unavailable"
	}
	for _, sentinel := range []error{domain.ErrDuplicatePatient, domain.ErrNoteExists, domain.ErrNoteLocked, domain.ErrPatientDeleted} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
