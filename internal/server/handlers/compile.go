package handlers

import (
	"log/slog"
	"net/http"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/server/responses"
)

// compileBodyLimit bounds the compile request body; it only carries two names.
const compileBodyLimit = 4 * 1024

// CompileHandlers runs compile jobs and reports engine availability.
type CompileHandlers struct {
	coord        *compile.Coordinator
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewCompileHandlers creates compile handlers backed by coord.
func NewCompileHandlers(coord *compile.Coordinator) *CompileHandlers {
	return &CompileHandlers{
		coord:        coord,
		errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default()),
	}
}

// HandleCompile compiles a document and waits for the job to finish.
// The job keeps running if the client disconnects.
func (h *CompileHandlers) HandleCompile(w http.ResponseWriter, r *http.Request) {
	var req responses.CompileRequest
	if err := decodeJSON(w, r, compileBodyLimit, &req); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	job, err := h.coord.Compile(r.Context(), req.Filename, req.Engine)
	if err != nil {
		if ce, ok := ferrors.AsClassified(err); ok && job != nil {
			err = ce.WithContext("passes", responses.SummarizePasses(job.Passes)).
				WithContext("log", job.Log())
		}
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	resp := responses.CompileResponse{
		Success:     true,
		JobID:       job.ID,
		Document:    job.Document,
		Engine:      job.Engine,
		PDF:         "/api/pdf/" + job.Document,
		DurationMS:  job.Duration().Milliseconds(),
		Passes:      responses.SummarizePasses(job.Passes),
		Diagnostics: job.Diagnostics,
		Summary:     job.Summary,
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write compile response").Build())
	}
}

// HandleEngines lists compilers and bibliography tools with their availability.
func (h *CompileHandlers) HandleEngines(w http.ResponseWriter, r *http.Request) {
	reg := h.coord.Engines()
	resp := responses.EnginesResponse{Default: reg.DefaultEngine(), Engines: reg.Tools()}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write engines response").Build())
	}
}
