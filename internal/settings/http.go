package settings

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ServeHTTP exposes the runtime settings over HTTP: GET returns the
// current snapshot, POST/PUT applies an update. Rejected updates come
// back as 422 with the validation message and leave the previous
// snapshot in effect.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(s.Current())

	case http.MethodPost, http.MethodPut:
		var snap Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "malformed settings document"})
			return
		}
		if err := s.Update(snap); err != nil {
			code := http.StatusInternalServerError
			var ve *ValidationError
			if errors.As(err, &ve) {
				code = http.StatusUnprocessableEntity
			}
			w.WriteHeader(code)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(s.Current())

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
