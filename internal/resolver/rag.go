package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/marketdesk/marketdesk/internal/cache"
	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
	"github.com/marketdesk/marketdesk/internal/providers"
	"github.com/marketdesk/marketdesk/internal/store"
)

const (
	ragChunkWords   = 200
	ragChunkOverlap = 40
	ragDefaultTopK  = 5
	ragMaxTopK      = 20
)

type ragChunk struct {
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding"`
}

type ragResult struct {
	Chunks     []providers.ScoredChunk `json:"chunks"`
	Provenance Provenance              `json:"provenance"`
}

// QueryTranscript answers a free-text question against one transcript:
// embed-and-rank over stored chunks when an embedder is available,
// falling back to a hosted semantic search. Chunk embeddings persist as
// a transcript derivative so repeat questions skip the embedding pass.
func (r *Resolver) QueryTranscript(ctx context.Context, rawSymbol, rawQuarter string, fiscalYear int, question string, topK int) ([]providers.ScoredChunk, Provenance, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, Provenance{}, errs.New(errs.KindInvalidInput, "question is empty")
	}
	if topK <= 0 {
		topK = ragDefaultTopK
	}
	if topK > ragMaxTopK {
		topK = ragMaxTopK
	}
	sym, quarter, err := r.transcriptArgs(rawSymbol, rawQuarter, fiscalYear)
	if err != nil {
		return nil, Provenance{}, err
	}

	// The hash covers the question and scope so Q2 answers never shadow Q3.
	hash := keys.QuestionHash(fmt.Sprintf("%s|%s|%d|%d|%s", sym.Full(), quarter, fiscalYear, topK, question))
	key := keys.RAGAnswerKey(sym, hash)

	v, _, err := r.flight.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return r.fetchRAG(ctx, key, sym, quarter, fiscalYear, question, topK)
	})
	if err != nil {
		return nil, Provenance{}, err
	}
	res := v.(*ragResult)
	return res.Chunks, res.Provenance, nil
}

func (r *Resolver) fetchRAG(ctx context.Context, key string, sym keys.CanonicalSymbol, quarter string, fiscalYear int, question string, topK int) (*ragResult, error) {
	if payload, meta, ok, _ := r.cache.Get(ctx, key); ok && !cache.IsNegative(meta) {
		var res ragResult
		if err := json.Unmarshal(payload, &res); err == nil {
			res.Provenance.CacheTier = "cache"
			return &res, nil
		}
		_ = r.cache.Delete(ctx, key)
	}

	transcript, _, err := r.Transcript(ctx, sym.Full(), quarter, fiscalYear)
	if err != nil {
		return nil, err
	}

	res, embedErr := r.ragByEmbedding(ctx, transcript, question, topK)
	if embedErr == nil {
		r.cacheRAG(ctx, key, res)
		return res, nil
	}
	if errs.IsKind(embedErr, errs.KindInvalidInput) {
		return nil, embedErr
	}

	// Hosted semantic search can still answer when no embedder can.
	corpusID := fmt.Sprintf("%s %s FY%d earnings call", sym.Full(), quarter, fiscalYear)
	res, searchErr := r.ragBySearch(ctx, question, topK, corpusID)
	if searchErr == nil {
		r.cacheRAG(ctx, key, res)
		return res, nil
	}
	r.log.Warn().Err(searchErr).Str("symbol", sym.Full()).Msg("semantic-search fallback failed")
	return nil, embedErr
}

func (r *Resolver) ragByEmbedding(ctx context.Context, transcript *store.Transcript, question string, topK int) (*ragResult, error) {
	chunks, modelTag, err := r.transcriptChunks(ctx, transcript)
	if err != nil {
		return nil, err
	}

	qvec, embedTag, err := r.embedOne(ctx, question)
	if err != nil {
		return nil, err
	}
	if modelTag == "" {
		modelTag = embedTag
	}

	scored := make([]providers.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		scored = append(scored, providers.ScoredChunk{
			Text:  c.Text,
			URL:   transcript.SourceURL,
			Score: cosine(qvec, c.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return &ragResult{
		Chunks:     scored,
		Provenance: Provenance{Source: modelTag, FetchedAt: r.clock().UTC()},
	}, nil
}

// transcriptChunks returns the embedded chunks for a transcript, reusing
// the stored derivative when present and embedding fresh otherwise.
func (r *Resolver) transcriptChunks(ctx context.Context, transcript *store.Transcript) ([]ragChunk, string, error) {
	if r.store != nil && transcript.ID != 0 {
		if d, err := r.store.Transcripts.GetDerivative(ctx, transcript.ID, store.DerivativeRAGChunks, ""); err == nil {
			var chunks []ragChunk
			if jerr := json.Unmarshal(d.Payload, &chunks); jerr == nil && len(chunks) > 0 {
				return chunks, d.ModelTag, nil
			}
		}
	}

	texts := chunkWords(transcript.Text, ragChunkWords, ragChunkOverlap)
	if len(texts) == 0 {
		return nil, "", errs.New(errs.KindInvalidInput, "transcript has no text to index")
	}

	vecs, modelTag, err := r.embedBatch(ctx, texts)
	if err != nil {
		return nil, "", err
	}
	chunks := make([]ragChunk, len(texts))
	for i := range texts {
		chunks[i] = ragChunk{Text: texts[i], Embedding: vecs[i]}
	}

	if r.store != nil && transcript.ID != 0 {
		payload, merr := json.Marshal(chunks)
		if merr == nil {
			if werr := r.store.Transcripts.UpsertDerivative(ctx, &store.TranscriptDerivative{
				TranscriptID: transcript.ID,
				Kind:         store.DerivativeRAGChunks,
				Payload:      payload,
				ModelTag:     modelTag,
			}); werr != nil {
				r.log.Error().Err(werr).Int64("transcript_id", transcript.ID).
					Msg("chunk-embedding write-through failed")
			}
		}
	}
	return chunks, modelTag, nil
}

func (r *Resolver) embedBatch(ctx context.Context, texts []string) ([][]float64, string, error) {
	descs := r.registry.Descriptors(providers.CapEmbed)
	var attempts []attempt
	for i, p := range r.registry.Embedders() {
		var vecs [][]float64
		endpoint := endpointFor(descs, i, p.Name())
		err := r.call(ctx, endpoint, p.Name(), func(ctx context.Context) error {
			var ferr error
			vecs, ferr = p.Embed(ctx, texts)
			return ferr
		})
		if err != nil {
			attempts = append(attempts, attempt{name: p.Name(), err: err})
			continue
		}
		if len(vecs) != len(texts) {
			attempts = append(attempts, attempt{name: p.Name(),
				err: errs.Newf(errs.KindPermanent, "embedder returned %d vectors for %d chunks", len(vecs), len(texts))})
			continue
		}
		return vecs, p.Name(), nil
	}
	return nil, "", summarize("embeddings", attempts)
}

func (r *Resolver) embedOne(ctx context.Context, text string) ([]float64, string, error) {
	vecs, tag, err := r.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, "", err
	}
	return vecs[0], tag, nil
}

func (r *Resolver) ragBySearch(ctx context.Context, question string, topK int, corpusID string) (*ragResult, error) {
	descs := r.registry.Descriptors(providers.CapSearch)
	var attempts []attempt
	for i, p := range r.registry.Searchers() {
		var hits []providers.ScoredChunk
		endpoint := endpointFor(descs, i, p.Name())
		err := r.call(ctx, endpoint, p.Name(), func(ctx context.Context) error {
			var ferr error
			hits, ferr = p.TopK(ctx, question, topK, corpusID)
			return ferr
		})
		if err != nil {
			attempts = append(attempts, attempt{name: p.Name(), err: err})
			continue
		}
		return &ragResult{
			Chunks: hits,
			Provenance: Provenance{
				Source:    p.Name(),
				FetchedAt: r.clock().UTC(),
				Partial:   true,
				Note:      "answered by hosted search, not transcript embeddings",
			},
		}, nil
	}
	return nil, summarize("semantic search", attempts)
}

func (r *Resolver) cacheRAG(ctx context.Context, key string, res *ragResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, payload, r.ttl.Derived(), res.Provenance.Source); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("rag cache write failed")
	}
}

// chunkWords splits text into overlapping word windows.
func chunkWords(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = ragChunkWords
	}
	if overlap >= size {
		overlap = size / 4
	}
	step := size - overlap
	var out []string
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
