package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/internal/middleware"
	"github.com/cardio-risk-server/internal/service"
)

type noteBody struct {
	Text string `json:"text"`
}

type outcomeBody struct {
	CardiacArrest interface{} `json:"cardiac_arrest"`
	ConfirmedBy   string      `json:"confirmed_by"`
}

// predictRequest is the body of POST /predict
type predictRequest struct {
	PatientID    string                 `json:"patient_id"`
	Input        map[string]interface{} `json:"input"`
	ECG          map[string]interface{} `json:"ecg"`
	UseDeviceECG bool                   `json:"use_device_ecg"`
	DoctorNotes  *noteBody              `json:"doctor_notes"`
	Outcome      *outcomeBody           `json:"outcome"`
	Save         *bool                  `json:"save"`
}

func (r *predictRequest) toAssessRequest(hospitalID string) (*service.AssessRequest, error) {
	req := &service.AssessRequest{
		HospitalID:   hospitalID,
		PatientID:    r.PatientID,
		Input:        r.Input,
		ECG:          r.ECG,
		UseDeviceECG: r.UseDeviceECG,
		Save:         r.Save == nil || *r.Save,
	}
	if r.DoctorNotes != nil {
		req.DoctorNote = r.DoctorNotes.Text
	}
	if r.Outcome != nil && r.Outcome.CardiacArrest != nil {
		n, err := service.ParseOutcomeValue(r.Outcome.CardiacArrest)
		if err != nil {
			return nil, err
		}
		req.CardiacArrest = &n
		req.ConfirmedBy = r.Outcome.ConfirmedBy
	}
	return req, nil
}

// handlePredict runs an assessment and stores it unless save is false
func (s *Server) handlePredict(c *gin.Context) {
	var body predictRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "Invalid JSON body")
		return
	}
	if body.Input == nil {
		s.respondError(c, domain.NewValidationError("input", "Missing input data", nil))
		return
	}
	req, err := body.toAssessRequest(middleware.HospitalID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}

	result, err := s.deps.Assessments.Assess(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCreatePatient(c *gin.Context) {
	var req service.CreatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid JSON body")
		return
	}
	patient, err := s.deps.Patients.CreatePatient(c.Request.Context(), middleware.HospitalID(c), &req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, patient)
}

func (s *Server) handleListPatients(c *gin.Context) {
	patients, err := s.deps.Patients.ListPatients(c.Request.Context(), middleware.HospitalID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": nonNilPatients(patients)})
}

func (s *Server) handleSearchPatients(c *gin.Context) {
	patients, err := s.deps.Patients.SearchByMobile(c.Request.Context(), middleware.HospitalID(c), c.Query("q"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": nonNilPatients(patients)})
}

func (s *Server) handleDuplicateCheck(c *gin.Context) {
	matches, err := s.deps.Patients.DuplicateCheck(c.Request.Context(), middleware.HospitalID(c), c.Query("name"), c.Query("age"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(matches), "matches": matches})
}

func (s *Server) handleGetPatient(c *gin.Context) {
	patient, err := s.deps.Patients.GetPatient(c.Request.Context(), middleware.HospitalID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (s *Server) handleUpdatePatient(c *gin.Context) {
	var req service.UpdatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid JSON body")
		return
	}
	updated, err := s.deps.Patients.UpdatePatient(c.Request.Context(), middleware.HospitalID(c), c.Param("id"), &req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// handleDeletePatient soft-deletes a patient; records are kept for retraining
func (s *Server) handleDeletePatient(c *gin.Context) {
	if err := s.deps.Patients.DeletePatient(c.Request.Context(), middleware.HospitalID(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Patient deleted"})
}

func (s *Server) handleSetOutcome(c *gin.Context) {
	var body outcomeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "Invalid JSON body")
		return
	}
	result, err := s.deps.Patients.SetOutcome(c.Request.Context(), middleware.HospitalID(c), c.Param("id"), body.CardiacArrest, body.ConfirmedBy)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleTimeline(c *gin.Context) {
	timeline, err := s.deps.Patients.Timeline(c.Request.Context(), middleware.HospitalID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, timeline)
}

func (s *Server) handleAddNote(c *gin.Context) {
	var body noteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "Invalid JSON body")
		return
	}
	note, err := s.deps.Patients.AddNote(c.Request.Context(), middleware.HospitalID(c), c.Param("id"), c.Param("record_id"), body.Text)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"doctor_notes": note})
}

func (s *Server) handleEditNote(c *gin.Context) {
	var body noteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "Invalid JSON body")
		return
	}
	note, err := s.deps.Patients.EditNote(c.Request.Context(), middleware.HospitalID(c), c.Param("id"), c.Param("record_id"), body.Text)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doctor_notes": note})
}

func (s *Server) handleGetNote(c *gin.Context) {
	note, err := s.deps.Patients.GetNote(c.Request.Context(), middleware.HospitalID(c), c.Param("id"), c.Param("record_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doctor_notes": note})
}

func (s *Server) handleDashboard(c *gin.Context) {
	analytics, err := s.deps.Patients.Dashboard(c.Request.Context(), middleware.HospitalID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

func nonNilPatients(p []*domain.Patient) []*domain.Patient {
	if p == nil {
		return []*domain.Patient{}
	}
	return p
}
