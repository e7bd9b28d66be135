package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"crane-go/pkg/crane"
	"crane-go/pkg/errors"
	"crane-go/pkg/kinematics"
	"crane-go/pkg/log"
	"crane-go/pkg/safety"
)

// maxBodySize bounds REST request bodies.
const maxBodySize = 64 * 1024

const encodeFailureBody = `{"error":{"code":"RUNTIME","message":"response could not be encoded"}}
`

type forwardRequest struct {
	State       crane.JointState   `json:"state"`
	Orientation *crane.Orientation `json:"orientation,omitempty"`
}

type forwardResponse struct {
	XYZPosition crane.CartesianPosition `json:"xyzPosition"`
	Transform   [16]float64             `json:"transform"`
}

type inverseRequest struct {
	XYZPosition crane.CartesianPosition `json:"xyzPosition"`
	Orientation *crane.Orientation      `json:"orientation,omitempty"`
}

type healthResponse struct {
	Status   string        `json:"status"`
	Sessions int           `json:"sessions"`
	Uptime   float64       `json:"uptime"`
	Safety   safety.Status `json:"safety"`
}

type estopRequest struct {
	Message string `json:"message"`
}

type errorBody struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: len(s.SessionIDs()),
		Uptime:   time.Since(s.startTime).Seconds(),
		Safety:   s.safety.GetStatus(),
	})
}

func (s *Server) handleEStopStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.safety.GetStatus())
}

// handleEStop halts every session. The body is optional.
func (s *Server) handleEStop(w http.ResponseWriter, r *http.Request) {
	var req estopRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.Message == "" {
		req.Message = "emergency stop requested"
	}
	s.logger.WithField("remote", r.RemoteAddr).Warn("emergency stop: %s", req.Message)
	s.safety.EmergencyStop(req.Message)
	writeJSON(w, http.StatusOK, s.safety.GetStatus())
}

func (s *Server) handleEStopReset(w http.ResponseWriter, r *http.Request) {
	if err := s.safety.Reset(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.logger.Info("emergency stop cleared")
	writeJSON(w, http.StatusOK, s.safety.GetStatus())
}

func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Spec)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.SessionIDs()})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New(errors.ErrRequestInvalid, "unknown session "+id))
		return
	}
	writeJSON(w, http.StatusOK, sess.Peek())
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	var req forwardRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.State.IsFinite() {
		writeError(w, http.StatusBadRequest, errors.RequestInvalidError("state must be finite"))
		return
	}
	resp := forwardResponse{
		XYZPosition: kinematics.ForwardJoint(req.State, s.cfg.Spec, req.Orientation),
		Transform:   kinematics.Transform(req.State.SwingLiftElbow(), s.cfg.Spec, req.Orientation),
	}
	if !resp.XYZPosition.IsFinite() || !finite(resp.Transform[:]) {
		writeError(w, http.StatusBadRequest, errors.RequestInvalidError("position is out of range"))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInverse(w http.ResponseWriter, r *http.Request) {
	var req inverseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sle, err := kinematics.Inverse(req.XYZPosition, s.cfg.Spec, req.Orientation)
	if err != nil {
		if errors.Is(err, errors.ErrUnreachable) {
			s.metrics.Unreachable()
		}
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if !finite([]float64{sle.Swing, sle.Lift, sle.Elbow}) {
		writeError(w, http.StatusBadRequest, errors.RequestInvalidError("solution is out of range"))
		return
	}
	writeJSON(w, http.StatusOK, sle)
}

func finite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.RequestParseError(err)
	}
	return nil
}

// JSON response helpers

// writeJSON encodes before writing the header; an encoding failure becomes
// a 500.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		log.GetLogger("server").WithError(err).Error("encoding response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(encodeFailureBody))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: errors.CodeOf(err), Message: errors.UserMessage(err)},
	})
}
