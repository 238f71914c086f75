package runtime

import (
	"net/http"

	"github.com/drblury/serialbridge/internal/runtime/jsoncodec"
	"github.com/drblury/serialbridge/transport"
)

// Status describes what a running Service is doing.
type Status struct {
	Mode         string                 `json:"mode,omitempty"`
	PubSubSystem string                 `json:"pubsub_system"`
	Capabilities transport.Capabilities `json:"capabilities"`

	Topic      string   `json:"topic,omitempty"`
	Rule       string   `json:"rule,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	Exclusions []string `json:"exclusions,omitempty"`

	Bindings     map[string]string `json:"bindings,omitempty"`
	StoreBackend string            `json:"store_backend,omitempty"`
}

// Status returns a copy of the current status.
func (s *Service) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Service) setStatus(update func(*Status)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	update(&s.status)
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, s.Status()); err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
