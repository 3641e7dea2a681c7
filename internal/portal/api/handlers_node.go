package api

import (
	"net/http"
	"strconv"
)

// Node callback endpoints. The response body is the literal string OK or
// ERR, not JSON: existing node software parses exactly that.

func writeNodeResult(w http.ResponseWriter, ok bool) {
	w.Header().Set("Content-Type", "text/plain")
	if ok {
		_, _ = w.Write([]byte("OK"))
		return
	}
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte("ERR"))
}

// nodeConnectHandler validates a client connect reported by a node. An
// unknown, expired or disabled-account identifier answers ERR so the node
// rejects the client, and no connection log entry is created.
func (s *Server) nodeConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := r.ParseForm(); err != nil {
			writeNodeResult(w, false)
			return
		}

		profileID := r.PostFormValue("profile_id")
		commonName := r.PostFormValue("common_name")
		if commonName == "" {
			commonName = r.PostFormValue("public_key")
		}
		if profileID == "" || commonName == "" {
			writeNodeResult(w, false)
			return
		}

		err := s.manager.HandleNodeConnected(ctx, profileID, commonName,
			r.PostFormValue("originating_ip"),
			r.PostFormValue("ip_four"),
			r.PostFormValue("ip_six"),
		)
		if err != nil {
			GetLogger(ctx).WarnContext(ctx, "node connect callback rejected",
				"profile_id", profileID, "connection_id", commonName, "error", err.Error())
			writeNodeResult(w, false)
			return
		}
		writeNodeResult(w, true)
	}
}

// nodeDisconnectHandler records a client disconnect reported by a node.
// Always answers OK: disconnect is best-effort and a missing open session
// is not the node's problem.
func (s *Server) nodeDisconnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := r.ParseForm(); err != nil {
			writeNodeResult(w, true)
			return
		}

		commonName := r.PostFormValue("common_name")
		if commonName == "" {
			commonName = r.PostFormValue("public_key")
		}

		bytesIn, _ := strconv.ParseInt(r.PostFormValue("bytes_in"), 10, 64)
		bytesOut, _ := strconv.ParseInt(r.PostFormValue("bytes_out"), 10, 64)

		if commonName != "" {
			s.manager.HandleNodeDisconnected(ctx, r.PostFormValue("profile_id"), commonName, bytesIn, bytesOut)
		}
		writeNodeResult(w, true)
	}
}
