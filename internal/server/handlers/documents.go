package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/server/responses"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// DocumentHandlers serves source CRUD and artifact downloads.
type DocumentHandlers struct {
	coord        *compile.Coordinator
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewDocumentHandlers creates document handlers backed by coord.
func NewDocumentHandlers(coord *compile.Coordinator) *DocumentHandlers {
	return &DocumentHandlers{
		coord:        coord,
		errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default()),
	}
}

// HandleList lists stored sources.
func (h *DocumentHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	names, err := h.coord.Store().ListSources()
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	files := make([]string, 0, len(names))
	for _, n := range names {
		files = append(files, workspace.SourceFileName(n))
	}
	h.write(w, r, http.StatusOK, responses.FileListResponse{Files: files})
}

// HandleGet returns one source.
func (h *DocumentHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	text, err := h.coord.Store().ReadSource(name)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	canonical, _ := workspace.NormalizeName(name)
	h.write(w, r, http.StatusOK, responses.FileResponse{Filename: workspace.SourceFileName(canonical), Content: text})
}

// HandleSave stores a source.
func (h *DocumentHandlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	var req responses.SaveRequest
	if err := decodeJSON(w, r, saveBodyLimit(h.coord.Store().MaxSourceBytes()), &req); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if err := h.coord.Save(r.Context(), req.Filename, req.Content); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	canonical, _ := workspace.NormalizeName(req.Filename)
	h.write(w, r, http.StatusOK, responses.SuccessResponse{
		Success:  true,
		Filename: workspace.SourceFileName(canonical),
		Message:  "File saved successfully",
	})
}

// HandleDelete removes a source with its working files and artifact.
func (h *DocumentHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.coord.Delete(r.Context(), name); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	h.write(w, r, http.StatusOK, responses.SuccessResponse{Success: true, Message: "File deleted successfully"})
}

// HandlePDF serves the published artifact. The file is opened before it is
// streamed, so a concurrent publish (rename) never truncates the response.
func (h *DocumentHandlers) HandlePDF(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	f, info, err := h.coord.Store().OpenArtifact(name)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *DocumentHandlers) write(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write response").Build())
	}
}

// saveBodyLimit bounds a save request on the wire. JSON escaping of `\`, `"`
// and control characters such as newlines at most doubles ordinary source
// text; WriteSource enforces the real size bound after decoding.
func saveBodyLimit(maxSource int64) int64 {
	return 2*maxSource + envelopeBytes
}
