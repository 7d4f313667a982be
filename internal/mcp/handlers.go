package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/snapkeep/internal/errors"
	"github.com/hpungsan/snapkeep/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *ops.Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *ops.Service) *Handlers {
	return &Handlers{svc: svc}
}

// Request types for each tool

// ReconcileRequest represents the arguments for reconcile.
type ReconcileRequest struct {
	Dir string `json:"dir,omitempty"`
}

// ListRequest represents the arguments for list.
type ListRequest struct {
	Name    string   `json:"name,omitempty"`
	Comment string   `json:"comment,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Refresh bool     `json:"refresh,omitempty"`
}

// FetchRequest represents the arguments for fetch.
type FetchRequest struct {
	Name          string `json:"name"`
	IncludeValues *bool  `json:"include_values,omitempty"`
}

// RestoreRequest represents the arguments for restore.
type RestoreRequest struct {
	Name   string            `json:"name"`
	Items  []string          `json:"items,omitempty"`
	Force  *bool             `json:"force,omitempty"`
	Macros map[string]string `json:"macros,omitempty"`
}

// SaveRequest represents the arguments for save.
type SaveRequest struct {
	Name      string            `json:"name,omitempty"`
	Comment   string            `json:"comment,omitempty"`
	Labels    []string          `json:"labels,omitempty"`
	Force     bool              `json:"force,omitempty"`
	Overwrite bool              `json:"overwrite,omitempty"`
	Macros    map[string]string `json:"macros,omitempty"`
}

// EditRequest represents the arguments for edit.
type EditRequest struct {
	Name    string    `json:"name"`
	Comment *string   `json:"comment,omitempty"`
	Labels  *[]string `json:"labels,omitempty"`
}

// DeleteRequest represents the arguments for delete.
type DeleteRequest struct {
	Names []string `json:"names"`
}

// CompareRequest represents the arguments for compare.
type CompareRequest struct {
	A    string `json:"a"`
	B    string `json:"b"`
	Text bool   `json:"text,omitempty"`
}

// Handler implementations

// HandleStatus handles the status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.svc.Status())
}

// HandleReconcile handles the reconcile tool call.
func (h *Handlers) HandleReconcile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReconcileRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.Reconcile(ops.ReconcileInput{Dir: input.Dir})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.List(ops.ListInput{
		Name:    input.Name,
		Comment: input.Comment,
		Labels:  input.Labels,
		Refresh: input.Refresh,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleLabels handles the labels tool call.
func (h *Handlers) HandleLabels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.svc.Labels()
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetch handles the fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.Fetch(ops.FetchInput{
		Name:          input.Name,
		IncludeValues: input.IncludeValues,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRestore handles the restore tool call.
func (h *Handlers) HandleRestore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RestoreRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.Restore(ctx, ops.RestoreInput{
		Name:   input.Name,
		Items:  input.Items,
		Force:  input.Force,
		Macros: input.Macros,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSave handles the save tool call.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.Save(ctx, ops.SaveInput{
		Name:      input.Name,
		Comment:   input.Comment,
		Labels:    input.Labels,
		Force:     input.Force,
		Overwrite: input.Overwrite,
		Macros:    input.Macros,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleEdit handles the edit tool call.
func (h *Handlers) HandleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[EditRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.EditMetadata(ops.EditInput{
		Name:    input.Name,
		Comment: input.Comment,
		Labels:  input.Labels,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDelete handles the delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.Delete(ops.DeleteInput{Names: input.Names})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCompare handles the compare tool call.
func (h *Handlers) HandleCompare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CompareRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.Compare(ops.CompareInput{A: input.A, B: input.B, Text: input.Text})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if sErr, ok := errors.As(err); ok {
		msg := sErr.Message
		if err.Error() != sErr.Error() {
			// Keep context added by wrapping
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": msg,
			"status":  sErr.Status,
		}
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
