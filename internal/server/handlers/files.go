package handlers

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/ledger"
	"github.com/pysugar/filedesk/internal/upload"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// ListFilesHandler lists uploaded files, optionally filtered by account_id
// and category.
func ListFilesHandler(files *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		list, err := files.List(r.Context(), ledger.Filter{
			AccountID: q.Get("account_id"),
			Category:  q.Get("category"),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"files": list})
	}
}

// GetFileHandler returns one file record.
func GetFileHandler(files *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, err := files.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
	}
}

// UploadFileHandler accepts a multipart upload with fields file, display_name,
// category, description, public and account_id. maxBytes bounds the file
// size; zero means unbounded.
func UploadFileHandler(orch *upload.Orchestrator, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartMemory)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeTooLarge(w, maxBytes)
				return
			}
			writeError(w, r, apperr.Validation("upload", "invalid multipart form: "+err.Error()))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, errMissingField("file"))
			return
		}
		defer file.Close()
		if maxBytes > 0 && header.Size > maxBytes {
			writeTooLarge(w, maxBytes)
			return
		}

		public, err := parseFormBool(r.FormValue("public"))
		if err != nil {
			writeError(w, r, apperr.Validation("upload", "public must be a boolean"))
			return
		}

		rec, err := orch.Upload(r.Context(), upload.Request{
			Content: file,
			Size:    header.Size,
			Metadata: upload.Metadata{
				DisplayName:  r.FormValue("display_name"),
				OriginalName: header.Filename,
				ContentType:  contentTypeOf(header.Header.Get("Content-Type"), header.Filename),
				Category:     strings.TrimSpace(r.FormValue("category")),
				Description:  r.FormValue("description"),
				IsPublic:     public,
			},
			AccountID: strings.TrimSpace(r.FormValue("account_id")),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"remoteFileId": rec.RemoteFileID,
			"viewLink":     rec.ViewLink,
			"downloadLink": rec.DownloadLink,
			"file":         rec,
		})
	}
}

type updateFileRequest struct {
	DisplayName *string `json:"display_name"`
	Category    *string `json:"category"`
}

// UpdateFileHandler edits a file's display name or category.
func UpdateFileHandler(files *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateFileRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, r, err)
			return
		}
		if req.DisplayName == nil && req.Category == nil {
			writeError(w, r, apperr.Validation("update file", "nothing to update"))
			return
		}
		file, err := files.UpdateMetadata(r.Context(), chi.URLParam(r, "id"), ledger.MetadataPatch{
			DisplayName: req.DisplayName,
			Category:    req.Category,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
	}
}

// DeleteFileHandler removes the remote object and its record.
func DeleteFileHandler(orch *upload.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := orch.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func parseFormBool(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil
	}
	if v == "on" {
		return true, nil
	}
	return strconv.ParseBool(v)
}

func contentTypeOf(declared, filename string) string {
	if declared != "" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

func writeTooLarge(w http.ResponseWriter, maxBytes int64) {
	writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: errorDetail{
		Type:    "too_large",
		Message: fmt.Sprintf("file exceeds the %d MB limit", maxBytes>>20),
	}})
}
