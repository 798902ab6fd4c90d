package server

import (
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragserve/internal/ingestion"
	"ragserve/internal/logging"
	"ragserve/internal/rag"
)

const (
	// uploadChunkThreshold is the content length above which an uploaded
	// document is split into overlapping chunks before storage.
	uploadChunkThreshold = 2000
	// uploadChunkSize is the chunk size applied to oversized uploads.
	uploadChunkSize = 1000
	// uploadChunkOverlap is the overlap between consecutive upload chunks.
	uploadChunkOverlap = 100

	// defaultListLimit is the page size for GET /api/documents when none is given.
	defaultListLimit = 10
	// maxListLimit caps the page size for GET /api/documents.
	maxListLimit = 100

	// defaultSearchLimit is the result count for document search when none is given.
	defaultSearchLimit = 5
	// maxSearchLimit caps the result count for document search.
	maxSearchLimit = 20
)

// handleDocumentCreate handles POST /api/documents. Content above the
// chunking threshold is split into overlapping chunks, each stored as its own
// point with a deterministic ID derived from the parent.
func (s *Server) handleDocumentCreate(w http.ResponseWriter, r *http.Request) {
	var req documentUpload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "content must not be empty")
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	} else if uuid.Validate(id) != nil {
		// Point IDs are UUIDs end to end; reject anything else up front.
		writeError(w, http.StatusBadRequest, codeValidation, "id must be a UUID")
		return
	}

	store := s.vectorStore(w, r)
	if store == nil {
		return
	}

	chunks := []string{content}
	if len(content) > uploadChunkThreshold {
		chunks = ingestion.SplitContent(content, uploadChunkSize, uploadChunkOverlap)
	}

	embeddings, err := s.embedder.Embed(r.Context(), chunks)
	if err != nil {
		logging.FromContext(r.Context()).Error("upload embedding failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, codeEmbedding, "embedding failed")
		return
	}

	created := time.Now().UTC().Format(time.RFC3339)
	docs := make([]rag.Document, 0, len(chunks))
	for i, chunk := range chunks {
		meta := maps.Clone(req.Metadata)
		if meta == nil {
			meta = make(map[string]string)
		}
		meta["created"] = created

		chunkID := id
		if len(chunks) > 1 {
			chunkID = ingestion.ChunkID(id, i)
			meta["parent"] = id
			meta["chunk_index"] = strconv.Itoa(i)
		}
		docs = append(docs, rag.Document{ID: chunkID, Content: chunk, Metadata: meta})
	}

	if err := store.Upsert(r.Context(), docs, embeddings); err != nil {
		logging.FromContext(r.Context()).Error("upload upsert failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeStoreError, "storing document failed")
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{ID: id, Chunks: len(chunks)})
}

// handleDocumentGet handles GET /api/documents/{id}.
func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	store := s.vectorStore(w, r)
	if store == nil {
		return
	}

	id := r.PathValue("id")
	docs, err := store.Get(r.Context(), []string{id})
	if err != nil {
		logging.FromContext(r.Context()).Error("document get failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeStoreError, "fetching document failed")
		return
	}
	if len(docs) == 0 {
		writeError(w, http.StatusNotFound, codeNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(docs[0]))
}

// handleDocumentList handles GET /api/documents with limit/offset paging.
func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	store := s.vectorStore(w, r)
	if store == nil {
		return
	}

	docs, err := store.List(r.Context(), limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Error("document list failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeStoreError, "listing documents failed")
		return
	}

	resp := listResponse{Documents: make([]documentResponse, 0, len(docs)), Limit: limit, Offset: offset}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDocumentUpdate handles PUT /api/documents/{id}. New content triggers
// re-embedding; metadata-only updates patch the stored payload in place.
func (s *Server) handleDocumentUpdate(w http.ResponseWriter, r *http.Request) {
	var req documentUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	newContent := strings.TrimSpace(req.Content)
	if newContent == "" && len(req.Metadata) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "nothing to update")
		return
	}

	store := s.vectorStore(w, r)
	if store == nil {
		return
	}

	id := r.PathValue("id")
	docs, err := store.Get(r.Context(), []string{id})
	if err != nil {
		logging.FromContext(r.Context()).Error("document update fetch failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeStoreError, "fetching document failed")
		return
	}
	if len(docs) == 0 {
		writeError(w, http.StatusNotFound, codeNotFound, "document not found")
		return
	}
	doc := docs[0]

	meta := maps.Clone(doc.Metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	maps.Copy(meta, req.Metadata)
	meta["updated"] = time.Now().UTC().Format(time.RFC3339)
	doc.Metadata = meta

	if newContent != "" && newContent != doc.Content {
		doc.Content = newContent
		embeddings, err := s.embedder.Embed(r.Context(), []string{newContent})
		if err != nil {
			logging.FromContext(r.Context()).Error("update embedding failed", slog.Any("error", err))
			writeError(w, http.StatusBadGateway, codeEmbedding, "embedding failed")
			return
		}
		if err := store.Upsert(r.Context(), []rag.Document{doc}, embeddings); err != nil {
			logging.FromContext(r.Context()).Error("update upsert failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, codeStoreError, "updating document failed")
			return
		}
	} else {
		if err := store.UpdatePayload(r.Context(), doc); err != nil {
			logging.FromContext(r.Context()).Error("update payload failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, codeStoreError, "updating document failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// handleDocumentDelete handles DELETE /api/documents/{id}.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	store := s.vectorStore(w, r)
	if store == nil {
		return
	}

	id := r.PathValue("id")
	docs, err := store.Get(r.Context(), []string{id})
	if err != nil {
		logging.FromContext(r.Context()).Error("document delete fetch failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeStoreError, "fetching document failed")
		return
	}
	if len(docs) == 0 {
		writeError(w, http.StatusNotFound, codeNotFound, "document not found")
		return
	}

	if err := store.Delete(r.Context(), []string{id}); err != nil {
		logging.FromContext(r.Context()).Error("document delete failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeStoreError, "deleting document failed")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "deleted"})
}

// handleDocumentsClear handles DELETE /api/documents, removing every stored
// document.
func (s *Server) handleDocumentsClear(w http.ResponseWriter, r *http.Request) {
	store := s.vectorStore(w, r)
	if store == nil {
		return
	}

	if err := store.Clear(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("documents clear failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeStoreError, "clearing documents failed")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "cleared"})
}

// handleDocumentCount handles GET /api/documents/count.
func (s *Server) handleDocumentCount(w http.ResponseWriter, r *http.Request) {
	store := s.vectorStore(w, r)
	if store == nil {
		return
	}

	n, err := store.Count(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("document count failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeStoreError, "counting documents failed")
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// handleDocumentSearch handles POST /api/documents/search: embed the query,
// run a similarity search, return scored hits. Unlike chat retrieval, store
// failures here surface to the caller — the search result is the deliverable.
func (s *Server) handleDocumentSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "query must not be empty")
		return
	}
	limit := req.Limit
	if limit < 1 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	store := s.vectorStore(w, r)
	if store == nil {
		return
	}

	embeddings, err := s.embedder.Embed(r.Context(), []string{query})
	if err != nil {
		logging.FromContext(r.Context()).Error("search embedding failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, codeEmbedding, "embedding failed")
		return
	}

	results, err := store.Search(r.Context(), embeddings[0], limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("document search failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeStoreError, "search failed")
		return
	}

	resp := searchResponse{Results: make([]searchHit, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, searchHit{
			ID:       res.Document.ID,
			Content:  res.Document.Content,
			Metadata: res.Document.Metadata,
			Score:    res.Score,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// toDocumentResponse maps a stored document to its JSON shape.
func toDocumentResponse(d rag.Document) documentResponse {
	return documentResponse{ID: d.ID, Content: d.Content, Metadata: d.Metadata}
}

// queryInt parses an integer query parameter, returning def when absent or
// malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
