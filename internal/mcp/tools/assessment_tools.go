package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/service"
)

// AssessRiskTool implements the assess_cardiac_risk MCP tool
type AssessRiskTool struct {
	logger   *logrus.Logger
	services Services
}

// AssessRiskParams defines parameters for the assess_cardiac_risk tool
type AssessRiskParams struct {
	PatientID     string                 `json:"patient_id,omitempty" jsonschema:"registered patient id, required when save is true"`
	Input         map[string]interface{} `json:"input" jsonschema:"clinical input: age gender height weight ap_hi ap_lo cholesterol gluc smoke alco active and optional symptoms"`
	ECG           map[string]interface{} `json:"ecg,omitempty" jsonschema:"optional ECG values such as heart_rate and qt_interval_ms"`
	DoctorNote    string                 `json:"doctor_note,omitempty" jsonschema:"optional note stored locked on the record"`
	CardiacArrest *int                   `json:"cardiac_arrest,omitempty" jsonschema:"1 when the visit confirms a cardiac arrest"`
	ConfirmedBy   string                 `json:"confirmed_by,omitempty"`
	Save          bool                   `json:"save,omitempty" jsonschema:"store the assessment on the patient timeline"`
}

// NewAssessRiskTool creates a new assess_cardiac_risk tool
func NewAssessRiskTool(logger *logrus.Logger, services Services) *AssessRiskTool {
	return &AssessRiskTool{logger: logger, services: services}
}

// Tool describes assess_cardiac_risk
func (t *AssessRiskTool) Tool() *mcp.Tool {
	return &mcp.Tool{
		Name: "assess_cardiac_risk",
		Description: "Estimate a patient's cardiovascular risk from vitals, lifestyle and symptoms. " +
			"Returns the probability, risk level, top factors, ECG flags and what-if scenarios.",
	}
}

// Handle runs the assessment
func (t *AssessRiskTool) Handle(ctx context.Context, _ *mcp.CallToolRequest, params AssessRiskParams) (*mcp.CallToolResult, any, error) {
	t.logger.WithField("tool", "assess_cardiac_risk").Info("Tool invoked")

	result, err := t.services.Assessments.Assess(ctx, &service.AssessRequest{
		HospitalID:    t.services.HospitalID,
		PatientID:     params.PatientID,
		Input:         params.Input,
		ECG:           params.ECG,
		DoctorNote:    params.DoctorNote,
		CardiacArrest: params.CardiacArrest,
		ConfirmedBy:   params.ConfirmedBy,
		Save:          params.Save,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(result)
	return res, nil, err
}
