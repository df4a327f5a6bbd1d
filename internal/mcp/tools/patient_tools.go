package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/service"
)

// =============================================================================
// Register Patient Tool
// =============================================================================

// RegisterPatientTool implements the register_patient MCP tool
type RegisterPatientTool struct {
	logger   *logrus.Logger
	services Services
}

// RegisterPatientParams defines parameters for the register_patient tool
type RegisterPatientParams struct {
	Name          string `json:"name"`
	Age           int    `json:"age" jsonschema:"age in years (1 to 120)"`
	Gender        int    `json:"gender" jsonschema:"1 for male and 2 for female"`
	PrimaryMobile string `json:"primary_mobile" jsonschema:"mobile number, at least ten digits"`
	PatientEmail  string `json:"patient_email,omitempty"`
	GuardianEmail string `json:"guardian_email,omitempty"`
}

// NewRegisterPatientTool creates a new register_patient tool
func NewRegisterPatientTool(logger *logrus.Logger, services Services) *RegisterPatientTool {
	return &RegisterPatientTool{logger: logger, services: services}
}

// Tool describes register_patient
func (t *RegisterPatientTool) Tool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "register_patient",
		Description: "Register a patient. The mobile number must be unique within the hospital.",
	}
}

// Handle registers the patient
func (t *RegisterPatientTool) Handle(ctx context.Context, _ *mcp.CallToolRequest, params RegisterPatientParams) (*mcp.CallToolResult, any, error) {
	patient, err := t.services.Patients.CreatePatient(ctx, t.services.HospitalID, &service.CreatePatientRequest{
		Name:          params.Name,
		Age:           params.Age,
		Gender:        params.Gender,
		PrimaryMobile: params.PrimaryMobile,
		PatientEmail:  params.PatientEmail,
		GuardianEmail: params.GuardianEmail,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(patient)
	return res, nil, err
}

// =============================================================================
// Find Patients Tool
// =============================================================================

// FindPatientsTool implements the find_patients MCP tool
type FindPatientsTool struct {
	logger   *logrus.Logger
	services Services
}

// FindPatientsParams defines parameters for the find_patients tool
type FindPatientsParams struct {
	Mobile string `json:"mobile" jsonschema:"at least three digits of the mobile number"`
}

// NewFindPatientsTool creates a new find_patients tool
func NewFindPatientsTool(logger *logrus.Logger, services Services) *FindPatientsTool {
	return &FindPatientsTool{logger: logger, services: services}
}

// Tool describes find_patients
func (t *FindPatientsTool) Tool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "find_patients",
		Description: "Search registered patients by part of their mobile number.",
	}
}

// Handle searches by mobile
func (t *FindPatientsTool) Handle(ctx context.Context, _ *mcp.CallToolRequest, params FindPatientsParams) (*mcp.CallToolResult, any, error) {
	patients, err := t.services.Patients.SearchByMobile(ctx, t.services.HospitalID, params.Mobile)
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(map[string]interface{}{"patients": patients, "count": len(patients)})
	return res, nil, err
}

// =============================================================================
// Patient Timeline Tool
// =============================================================================

// PatientTimelineTool implements the patient_timeline MCP tool
type PatientTimelineTool struct {
	logger   *logrus.Logger
	services Services
}

// PatientParams identifies one patient
type PatientParams struct {
	PatientID string `json:"patient_id"`
}

// NewPatientTimelineTool creates a new patient_timeline tool
func NewPatientTimelineTool(logger *logrus.Logger, services Services) *PatientTimelineTool {
	return &PatientTimelineTool{logger: logger, services: services}
}

// Tool describes patient_timeline
func (t *PatientTimelineTool) Tool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "patient_timeline",
		Description: "Show a patient's stored assessments in visit order with the risk trend and health score.",
	}
}

// Handle builds the timeline
func (t *PatientTimelineTool) Handle(ctx context.Context, _ *mcp.CallToolRequest, params PatientParams) (*mcp.CallToolResult, any, error) {
	timeline, err := t.services.Patients.Timeline(ctx, t.services.HospitalID, params.PatientID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(timeline)
	return res, nil, err
}

// =============================================================================
// Set Outcome Tool
// =============================================================================

// SetOutcomeTool implements the set_patient_outcome MCP tool
type SetOutcomeTool struct {
	logger   *logrus.Logger
	services Services
}

// SetOutcomeParams defines parameters for the set_patient_outcome tool
type SetOutcomeParams struct {
	PatientID     string `json:"patient_id"`
	CardiacArrest int    `json:"cardiac_arrest" jsonschema:"1 confirms a cardiac arrest and locks the outcome; 0 records none"`
	ConfirmedBy   string `json:"confirmed_by,omitempty"`
}

// NewSetOutcomeTool creates a new set_patient_outcome tool
func NewSetOutcomeTool(logger *logrus.Logger, services Services) *SetOutcomeTool {
	return &SetOutcomeTool{logger: logger, services: services}
}

// Tool describes set_patient_outcome
func (t *SetOutcomeTool) Tool() *mcp.Tool {
	return &mcp.Tool{
		Name: "set_patient_outcome",
		Description: "Record whether a patient had a cardiac arrest. A confirmed arrest is permanent " +
			"and is copied onto every stored assessment.",
	}
}

// Handle records the outcome
func (t *SetOutcomeTool) Handle(ctx context.Context, _ *mcp.CallToolRequest, params SetOutcomeParams) (*mcp.CallToolResult, any, error) {
	result, err := t.services.Patients.SetOutcome(ctx, t.services.HospitalID, params.PatientID, params.CardiacArrest, params.ConfirmedBy)
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(result)
	return res, nil, err
}

// =============================================================================
// Add Doctor Note Tool
// =============================================================================

// AddDoctorNoteTool implements the add_doctor_note MCP tool
type AddDoctorNoteTool struct {
	logger   *logrus.Logger
	services Services
}

// AddDoctorNoteParams defines parameters for the add_doctor_note tool
type AddDoctorNoteParams struct {
	PatientID string `json:"patient_id"`
	RecordID  string `json:"record_id"`
	Text      string `json:"text"`
}

// NewAddDoctorNoteTool creates a new add_doctor_note tool
func NewAddDoctorNoteTool(logger *logrus.Logger, services Services) *AddDoctorNoteTool {
	return &AddDoctorNoteTool{logger: logger, services: services}
}

// Tool describes add_doctor_note
func (t *AddDoctorNoteTool) Tool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "add_doctor_note",
		Description: "Attach the doctor note to a stored assessment. A record holds one note, editable for 15 minutes.",
	}
}

// Handle adds the note
func (t *AddDoctorNoteTool) Handle(ctx context.Context, _ *mcp.CallToolRequest, params AddDoctorNoteParams) (*mcp.CallToolResult, any, error) {
	note, err := t.services.Patients.AddNote(ctx, t.services.HospitalID, params.PatientID, params.RecordID, params.Text)
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(map[string]interface{}{"doctor_notes": note})
	return res, nil, err
}
