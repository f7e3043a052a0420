package certificate

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zombor/taxcert/internal/pipeline"
)

const (
	maxManualPayload = 64 << 10
	xlsxContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	writeWait        = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// lookupError maps a service lookup failure to a response
func lookupError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Certificate not found")
	case errors.Is(err, ErrBusy):
		writeError(w, http.StatusConflict, "The certificate is still being processed. Try again shortly.")
	default:
		slog.Error("Error "+action, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func contentTypeFor(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return pipeline.ContentTypePDF
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// handleUpload stores a certificate and queues it for extraction
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, pipeline.MaxInputSize+(1<<20))
	if err := r.ParseMultipartForm(pipeline.MaxInputSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "The file is larger than 10 MB.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := contentTypeFor(header.Header.Get("Content-Type"), header.Filename)
	cert, err := s.service.Upload(header.Filename, data, contentType)
	if err != nil {
		var pe *pipeline.Error
		if errors.As(err, &pe) {
			setCORSHeaders(w)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": pe.Message, "kind": string(pe.Kind)})
			return
		}
		slog.Error("Error uploading certificate", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "Error saving the upload")
		return
	}

	if err := s.queue.Enqueue(r.Context(), cert.ID); err != nil {
		slog.Error("Error queueing certificate", "id", cert.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "The server is not accepting new work")
		return
	}

	writeJSON(w, http.StatusAccepted, cert)
}

func (s *Server) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := s.service.List()
	if err != nil {
		slog.Error("Error listing certificates", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, certs)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.Export(&buf); err != nil {
		slog.Error("Error exporting certificates", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="certificates.xlsx"`)
	w.Write(buf.Bytes())
}

func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := s.service.Get(r.PathValue("id"))
	if err != nil {
		lookupError(w, err, "getting certificate")
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetFile(r.PathValue("id"))
	if err != nil {
		lookupError(w, err, "getting certificate file")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleEnterFields(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxManualPayload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(payload) > maxManualPayload {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body is too large")
		return
	}

	cert, err := s.service.EnterManually(r.PathValue("id"), payload)
	if err != nil {
		if errors.Is(err, ErrInvalidEntry) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		lookupError(w, err, "entering certificate values")
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleDeleteCertificate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.PathValue("id")); err != nil {
		lookupError(w, err, "deleting certificate")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProgress streams progress events for one certificate over a
// websocket. The stream ends after the terminal event.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.service.Get(id); err != nil {
		lookupError(w, err, "getting certificate")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket connection", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe(id)
	defer cancel()

	// the certificate may have finished before the subscription existed
	if cert, err := s.service.Get(id); err == nil && finished(cert) {
		s.send(conn, eventFor(cert))
		s.closeStream(conn)
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Warn("Websocket error", "id", id, "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.closeStream(conn)
				return
			}
			if err := s.send(conn, ev); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, ev Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		slog.Warn("Failed to send progress", "id", ev.CertificateID, "error", err)
		return err
	}
	return nil
}

func (s *Server) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func finished(cert *Certificate) bool {
	return cert.Status == StatusDone || cert.Status == StatusFailed
}

func eventFor(cert *Certificate) Event {
	ev := Event{
		CertificateID: cert.ID,
		Percent:       100,
		Status:        cert.Status,
		Stage:         pipeline.Done,
		Message:       "Extraction complete",
	}
	if cert.Status == StatusFailed {
		ev.Stage = pipeline.Failed
		ev.FailureKind = cert.FailureKind
		ev.Message = cert.FailureMessage
	}
	return ev
}
