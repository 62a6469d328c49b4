package submit

import (
	"encoding/json"
	"io"
	"net/http"

	"QuorumGate/internal/quorum"
)

// maxCertificateSize bounds relay request bodies.
const maxCertificateSize = 64 * 1024

// RelayHandler serves the relay side of HTTPSubmitter on top of sub,
// typically a Verifier. Execution failures answer 422, endpoint failures 503.
func RelayHandler(sub Submitter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeRelay(w, http.StatusMethodNotAllowed, relayResponse{Error: "method not allowed"})
			return
		}

		data, err := io.ReadAll(io.LimitReader(r.Body, maxCertificateSize+1))
		if err != nil || len(data) > maxCertificateSize {
			writeRelay(w, http.StatusBadRequest, relayResponse{Error: "invalid body"})
			return
		}

		receipt, err := sub.Submit(r.Context(), data)
		if err != nil {
			status := http.StatusServiceUnavailable
			if Classify(err) == quorum.ReasonL1Execution {
				status = http.StatusUnprocessableEntity
			}

			writeRelay(w, status, relayResponse{Error: err.Error()})
			return
		}

		writeRelay(w, http.StatusOK, relayResponse{Digest: receipt.Digest, Signers: receipt.Signers})
	})
}

// writeRelay writes a relay response.
func writeRelay(w http.ResponseWriter, status int, body relayResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
