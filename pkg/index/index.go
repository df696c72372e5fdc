// Package index implements the Index Gateway (spec §4.3 C3): full-text
// search over transcripts and k-nearest-neighbor search over speaker
// embeddings, built on the same postgres/sqlite database the Metadata
// Store already owns rather than standing up a separate search engine
// (spec's own Non-goals rule that out).
//
// On postgres the full-text side uses native tsvector/ts_rank/ts_headline
// via raw SQL; on sqlite (single-node/dev) it falls back to an in-process
// token-overlap scorer so the same Gateway works unmodified in tests and
// in the single-node deployment. Speaker similarity is always computed by
// loading an owner's embeddings and ranking them in Go: the pack carries
// no pgvector client binding, and at single-owner scale a brute-force scan
// is simpler than introducing one.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Document is one transcript's indexable content.
type Document struct {
	FileID   string
	Owner    string
	Title    string
	Text     string
	Speakers []string
	Tags     []string
	Language string
}

// Filters narrows SearchTranscripts beyond the free-text query.
type Filters struct {
	Tags     []string
	Speakers []string
	FileType string
	Since    *time.Time
	Until    *time.Time
}

// Hit is one search result.
type Hit struct {
	FileID    string
	Score     float64
	Highlight string
}

// SpeakerHit is one nearest-neighbor result from SearchSimilarSpeakers.
type SpeakerHit struct {
	SpeakerID string
	Score     float64
}

type transcriptRow struct {
	FileID    string `gorm:"primaryKey;size:36"`
	Owner     string `gorm:"not null;size:255;index"`
	Title     string `gorm:"size:512"`
	Text      string `gorm:"type:text"`
	Speakers  string `gorm:"type:text"`
	Tags      string `gorm:"type:text"`
	Language  string `gorm:"size:16"`
	FileType  string `gorm:"size:32"`
	UpdatedAt time.Time
}

func (transcriptRow) TableName() string { return "index_transcript" }

type speakerEmbeddingRow struct {
	SpeakerID string `gorm:"primaryKey;size:36"`
	Owner     string `gorm:"not null;size:255;index"`
	Embedding []byte `gorm:"type:blob"`
}

func (speakerEmbeddingRow) TableName() string { return "index_speaker_embedding" }

// Gateway is the Index Gateway. It owns two tables alongside the Metadata
// Store's own schema in the same database.
type Gateway struct {
	db         *gorm.DB
	isPostgres bool
}

// New migrates the index tables into db and returns a Gateway over them.
func New(db *gorm.DB) (*Gateway, error) {
	if err := db.AutoMigrate(&transcriptRow{}, &speakerEmbeddingRow{}); err != nil {
		return nil, fmt.Errorf("index: migrate: %w", err)
	}
	return &Gateway{db: db, isPostgres: db.Dialector.Name() == "postgres"}, nil
}

// IndexTranscript upserts doc, overwriting any prior version (spec §4.3:
// "re-indexing is overwrite"). Failures here are non-fatal for the
// transcription task itself: the transcription handler logs them and moves
// on, and no component re-attempts a failed write.
func (g *Gateway) IndexTranscript(ctx context.Context, doc Document) error {
	row := transcriptRow{
		FileID:    doc.FileID,
		Owner:     doc.Owner,
		Title:     doc.Title,
		Text:      doc.Text,
		Speakers:  strings.Join(doc.Speakers, ","),
		Tags:      strings.Join(doc.Tags, ","),
		Language:  doc.Language,
		UpdatedAt: time.Now(),
	}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// DeleteDocument removes file's indexed transcript, if any.
func (g *Gateway) DeleteDocument(ctx context.Context, fileID string) error {
	return g.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&transcriptRow{}).Error
}

// SearchTranscripts returns hits for query scoped to owner and filters,
// highest score first.
func (g *Gateway) SearchTranscripts(ctx context.Context, owner, query string, filters Filters) ([]Hit, error) {
	if g.isPostgres {
		return g.searchPostgres(ctx, owner, query, filters)
	}
	return g.searchFallback(ctx, owner, query, filters)
}

func (g *Gateway) searchPostgres(ctx context.Context, owner, query string, filters Filters) ([]Hit, error) {
	type row struct {
		FileID    string
		Score     float64
		Highlight string
	}
	tx := g.db.WithContext(ctx).Table("index_transcript").
		Select("file_id, ts_rank(to_tsvector('simple', text), plainto_tsquery('simple', ?)) AS score, "+
			"ts_headline('simple', text, plainto_tsquery('simple', ?)) AS highlight", query, query).
		Where("owner = ?", owner).
		Where("to_tsvector('simple', text) @@ plainto_tsquery('simple', ?)", query)
	applyFilters(tx, filters)

	var rows []row
	if err := tx.Order("score DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	hits := make([]Hit, len(rows))
	for i, r := range rows {
		hits[i] = Hit{FileID: r.FileID, Score: r.Score, Highlight: r.Highlight}
	}
	return hits, nil
}

// searchFallback scores each owner-scoped row in-process by counting
// query-token occurrences, for backends without tsvector support.
func (g *Gateway) searchFallback(ctx context.Context, owner, query string, filters Filters) ([]Hit, error) {
	tx := g.db.WithContext(ctx).Where("owner = ?", owner)
	applyFilters(tx, filters)

	var rows []transcriptRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	tokens := tokenize(query)
	var hits []Hit
	for _, r := range rows {
		lower := strings.ToLower(r.Text)
		score := 0.0
		for _, tok := range tokens {
			score += float64(strings.Count(lower, tok))
		}
		if score == 0 {
			continue
		}
		hits = append(hits, Hit{FileID: r.FileID, Score: score, Highlight: highlightAround(r.Text, tokens)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

func applyFilters(tx *gorm.DB, filters Filters) {
	if filters.FileType != "" {
		tx.Where("file_type = ?", filters.FileType)
	}
	if filters.Since != nil {
		tx.Where("updated_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		tx.Where("updated_at <= ?", *filters.Until)
	}
	for _, tag := range filters.Tags {
		tx.Where("tags LIKE ?", "%"+tag+"%")
	}
	for _, speaker := range filters.Speakers {
		tx.Where("speakers LIKE ?", "%"+speaker+"%")
	}
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func highlightAround(text string, tokens []string) string {
	lower := strings.ToLower(text)
	for _, tok := range tokens {
		if idx := strings.Index(lower, tok); idx >= 0 {
			start := idx - 30
			if start < 0 {
				start = 0
			}
			end := idx + len(tok) + 30
			if end > len(text) {
				end = len(text)
			}
			return strings.TrimSpace(text[start:end])
		}
	}
	return ""
}

// UpsertSpeakerEmbedding stores vec as speakerID's current embedding,
// overwriting any prior one.
func (g *Gateway) UpsertSpeakerEmbedding(ctx context.Context, speakerID, owner string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("index: marshal embedding: %w", err)
	}
	row := speakerEmbeddingRow{SpeakerID: speakerID, Owner: owner, Embedding: data}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "speaker_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// SearchSimilarSpeakers returns the k speakers owned by owner whose
// embeddings are closest to vec by cosine similarity, highest first.
func (g *Gateway) SearchSimilarSpeakers(ctx context.Context, owner string, vec []float32, k int) ([]SpeakerHit, error) {
	var rows []speakerEmbeddingRow
	if err := g.db.WithContext(ctx).Where("owner = ?", owner).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("index: list embeddings: %w", err)
	}

	hits := make([]SpeakerHit, 0, len(rows))
	for _, r := range rows {
		var candidate []float32
		if err := json.Unmarshal(r.Embedding, &candidate); err != nil {
			continue
		}
		hits = append(hits, SpeakerHit{SpeakerID: r.SpeakerID, Score: cosineSimilarity(vec, candidate)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
