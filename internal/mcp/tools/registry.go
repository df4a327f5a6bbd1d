package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/service"
)

// Services are the collaborators the tools act on. All calls are scoped to one hospital.
type Services struct {
	Assessments *service.AssessmentService
	Patients    *service.PatientService
	Exporter    *service.RetrainingExporter
	HospitalID  string
	ExportDir   string
}

// ToolRegistry manages registration of all MCP tools
type ToolRegistry struct {
	logger   *logrus.Logger
	services Services
	names    []string
}

// NewToolRegistry creates a new tool registry
func NewToolRegistry(logger *logrus.Logger, services Services) *ToolRegistry {
	return &ToolRegistry{
		logger:   logger,
		services: services,
	}
}

// RegisterAllTools registers the risk assessment and patient tools with the MCP server
func (tr *ToolRegistry) RegisterAllTools(server *mcp.Server) {
	tr.logger.Info("Registering cardiac risk tools")

	assess := NewAssessRiskTool(tr.logger, tr.services)
	mcp.AddTool(server, assess.Tool(), assess.Handle)
	tr.added(assess.Tool())

	register := NewRegisterPatientTool(tr.logger, tr.services)
	mcp.AddTool(server, register.Tool(), register.Handle)
	tr.added(register.Tool())

	find := NewFindPatientsTool(tr.logger, tr.services)
	mcp.AddTool(server, find.Tool(), find.Handle)
	tr.added(find.Tool())

	timeline := NewPatientTimelineTool(tr.logger, tr.services)
	mcp.AddTool(server, timeline.Tool(), timeline.Handle)
	tr.added(timeline.Tool())

	outcome := NewSetOutcomeTool(tr.logger, tr.services)
	mcp.AddTool(server, outcome.Tool(), outcome.Handle)
	tr.added(outcome.Tool())

	note := NewAddDoctorNoteTool(tr.logger, tr.services)
	mcp.AddTool(server, note.Tool(), note.Handle)
	tr.added(note.Tool())

	if tr.services.Exporter != nil {
		export := NewExportRetrainingTool(tr.logger, tr.services)
		mcp.AddTool(server, export.Tool(), export.Handle)
		tr.added(export.Tool())
	}

	tr.logger.WithField("tool_count", len(tr.names)).Info("Successfully registered all tools")
}

// ToolNames returns the registered tool names in registration order
func (tr *ToolRegistry) ToolNames() []string {
	return append([]string(nil), tr.names...)
}

func (tr *ToolRegistry) added(tool *mcp.Tool) {
	tr.names = append(tr.names, tool.Name)
	tr.logger.WithField("tool_name", tool.Name).Debug("Registered MCP tool")
}
