package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

// ExportRetrainingTool implements the export_retraining MCP tool
type ExportRetrainingTool struct {
	logger   *logrus.Logger
	services Services
	now      func() time.Time
}

// ExportRetrainingParams defines parameters for the export_retraining tool
type ExportRetrainingParams struct {
	Filename string `json:"filename,omitempty" jsonschema:"file name inside the export directory; defaults to a timestamped name"`
}

// ExportRetrainingResult describes the written dataset
type ExportRetrainingResult struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

// NewExportRetrainingTool creates a new export_retraining tool
func NewExportRetrainingTool(logger *logrus.Logger, services Services) *ExportRetrainingTool {
	return &ExportRetrainingTool{logger: logger, services: services, now: time.Now}
}

// Tool describes export_retraining
func (t *ExportRetrainingTool) Tool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "export_retraining",
		Description: "Write every stored assessment as a labelled CSV row for model retraining.",
	}
}

// Handle writes the dataset into the export directory
func (t *ExportRetrainingTool) Handle(ctx context.Context, _ *mcp.CallToolRequest, params ExportRetrainingParams) (*mcp.CallToolResult, any, error) {
	name := params.Filename
	if name == "" {
		name = fmt.Sprintf("retraining_%s.csv", t.now().UTC().Format("20060102_150405"))
	}
	// keep writes inside the export directory
	name = filepath.Base(name)
	if err := os.MkdirAll(t.services.ExportDir, 0755); err != nil {
		return errorResult(fmt.Errorf("failed to create export directory: %w", err)), nil, nil
	}
	path := filepath.Join(t.services.ExportDir, name)

	f, err := os.Create(path)
	if err != nil {
		return errorResult(fmt.Errorf("failed to create export file: %w", err)), nil, nil
	}
	rows, err := t.services.Exporter.Export(ctx, f, t.services.HospitalID)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errorResult(err), nil, nil
	}

	t.logger.WithFields(logrus.Fields{"path": path, "rows": rows}).Info("Retraining export written")
	res, err := jsonResult(ExportRetrainingResult{Path: path, Rows: rows})
	return res, nil, err
}
