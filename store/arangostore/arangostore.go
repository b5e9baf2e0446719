// Package arangostore implements memory.ProceduralStore and
// memory.EpisodicStore against ArangoDB, grounded directly on
// basegraphhq-basegraph's relay/common/arangodb client: the same
// round-robin/HTTP2 connection bootstrap, the same idempotent
// ensure-database/ensure-collections/ensure-graph setup sequence, and the
// same AQL-traversal-with-bind-vars query style, repurposed here for the
// node kinds "agents", "skills", "skill_stats", "episodes", "steps" and
// "memories" and the edge kinds "produced", "informs" and "about_skill"
// instead of a source code graph.
package arangostore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"

	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/internal/tokenset"
	"github.com/mrlecko/hcc/memory"
)

const graphName = "hcc_memory"

var nodeCollections = []string{"agents", "skills", "skill_stats", "episodes", "steps", "memories"}
var edgeCollections = []string{"produced", "informs", "about_skill"}

// Config is the connection configuration for an ArangoDB-backed store.
type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("arangodb URL is required")
	}
	if c.Username == "" {
		return fmt.Errorf("arangodb username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("arangodb database name is required")
	}
	return nil
}

// Store implements memory.ProceduralStore and memory.EpisodicStore against
// a live ArangoDB deployment.
type Store struct {
	arangoClient arangodb.Client
	db           arangodb.Database
	cfg          Config
	retrieval    memory.RetrievalConfig
	logger       core.Logger
}

// New opens a connection and returns a Store with the database not yet
// provisioned; call EnsureSchema before first use.
func New(cfg Config, retrieval memory.RetrievalConfig, logger core.Logger) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("arangodb config: %w", err)
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("store/arangostore")
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))

	auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
	if err := conn.SetAuthentication(auth); err != nil {
		return nil, fmt.Errorf("arangodb auth: %w", err)
	}

	return &Store{
		arangoClient: arangodb.NewClient(conn),
		cfg:          cfg,
		retrieval:    retrieval,
		logger:       logger,
	}, nil
}

// EnsureSchema creates the database, node/edge collections and the
// hcc_memory graph if they do not already exist. Idempotent: safe to call
// on every process start, mirroring the teacher client's ensure-* sequence.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.ensureDatabase(ctx); err != nil {
		return err
	}
	if err := s.ensureCollections(ctx); err != nil {
		return err
	}
	return s.ensureGraph(ctx)
}

func (s *Store) ensureDatabase(ctx context.Context) error {
	exists, err := s.arangoClient.DatabaseExists(ctx, s.cfg.Database)
	if err != nil {
		return fmt.Errorf("check database exists: %w", err)
	}
	if !exists {
		if _, err := s.arangoClient.CreateDatabase(ctx, s.cfg.Database, nil); err != nil {
			return fmt.Errorf("create database: %w", err)
		}
		s.logger.Info("arangodb database created", map[string]interface{}{"database": s.cfg.Database})
	}

	db, err := s.arangoClient.GetDatabase(ctx, s.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("get database: %w", err)
	}
	s.db = db
	return nil
}

func (s *Store) ensureCollections(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized, call EnsureSchema first")
	}
	for _, name := range nodeCollections {
		if err := s.ensureCollection(ctx, name, false); err != nil {
			return err
		}
	}
	for _, name := range edgeCollections {
		if err := s.ensureCollection(ctx, name, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureCollection(ctx context.Context, name string, isEdge bool) error {
	exists, err := s.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s exists: %w", name, err)
	}
	if exists {
		return nil
	}

	props := &arangodb.CreateCollectionPropertiesV2{}
	colType := arangodb.CollectionTypeDocument
	if isEdge {
		colType = arangodb.CollectionTypeEdge
	}
	props.Type = &colType

	if _, err := s.db.CreateCollectionV2(ctx, name, props); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	s.logger.Info("arangodb collection created", map[string]interface{}{"collection": name, "is_edge": isEdge})
	return nil
}

func (s *Store) ensureGraph(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized, call EnsureSchema first")
	}
	exists, err := s.db.GraphExists(ctx, graphName)
	if err != nil {
		return fmt.Errorf("check graph exists: %w", err)
	}
	if exists {
		return nil
	}

	graphDef := &arangodb.GraphDefinition{
		Name: graphName,
		EdgeDefinitions: []arangodb.EdgeDefinition{
			{Collection: "produced", From: []string{"episodes"}, To: []string{"steps"}},
			{Collection: "about_skill", From: []string{"steps"}, To: []string{"skill_stats"}},
			{Collection: "informs", From: []string{"steps"}, To: []string{"memories"}},
		},
	}
	if _, err := s.db.CreateGraph(ctx, graphName, graphDef, nil); err != nil {
		return fmt.Errorf("create graph: %w", err)
	}
	s.logger.Info("arangodb graph created", map[string]interface{}{"graph": graphName})
	return nil
}

func makeKey(parts ...string) string {
	hash := md5.Sum([]byte(fmt.Sprintf("%v", parts)))
	return hex.EncodeToString(hash[:])[:16]
}

// Record upserts the skill_stats document keyed by (skillID, contextKey).
// A query or write failure is logged and swallowed: procedural memory is
// advisory, per spec §4.2.
func (s *Store) Record(ctx context.Context, skillID, contextKey string, success bool, stepsToSuccess int) error {
	row, _, err := s.get(ctx, skillID, contextKey)
	if err != nil {
		s.logger.WarnWithContext(ctx, "skill_stats record degraded: read failed", map[string]interface{}{
			"skill_id": skillID, "context_key": contextKey, "error": err.Error(),
		})
		return nil
	}

	row.Uses++
	if success {
		row.Successes++
		n := float64(row.Successes)
		row.AvgStepsWhenSuccessful = ((n-1)*row.AvgStepsWhenSuccessful + float64(stepsToSuccess)) / n
	} else {
		row.Failures++
	}

	col, err := s.db.GetCollection(ctx, "skill_stats", nil)
	if err != nil {
		s.logger.WarnWithContext(ctx, "skill_stats record degraded: collection lookup failed", map[string]interface{}{"error": err.Error()})
		return nil
	}

	doc := map[string]interface{}{
		"_key":                      makeKey(skillID, contextKey),
		"skill_id":                  row.SkillID,
		"context_key":               row.ContextKey,
		"uses":                      row.Uses,
		"successes":                 row.Successes,
		"failures":                  row.Failures,
		"avg_steps_when_successful": row.AvgStepsWhenSuccessful,
	}
	if _, err := col.CreateDocument(ctx, doc); err != nil {
		// Document already exists from a prior Record call; replace it.
		if _, err := col.ReplaceDocument(ctx, doc["_key"].(string), doc); err != nil {
			s.logger.WarnWithContext(ctx, "skill_stats record degraded: write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

// SuccessRate reads the skill_stats document, degrading to the neutral
// prior on a miss or backend failure.
func (s *Store) SuccessRate(ctx context.Context, skillID, contextKey string) (float64, int, error) {
	row, found, err := s.get(ctx, skillID, contextKey)
	if err != nil {
		s.logger.WarnWithContext(ctx, "skill_stats query degraded to neutral prior", map[string]interface{}{
			"skill_id": skillID, "context_key": contextKey, "error": err.Error(),
		})
		return memory.NeutralPrior, 0, nil
	}
	if !found || row.Uses == 0 {
		return memory.NeutralPrior, 0, nil
	}
	return float64(row.Successes) / float64(row.Uses), row.Uses, nil
}

func (s *Store) get(ctx context.Context, skillID, contextKey string) (*memory.ProceduralRow, bool, error) {
	if s.db == nil {
		return nil, false, fmt.Errorf("database not initialized")
	}
	col, err := s.db.GetCollection(ctx, "skill_stats", nil)
	if err != nil {
		return nil, false, fmt.Errorf("get collection skill_stats: %w", err)
	}

	var doc struct {
		SkillID                string  `json:"skill_id"`
		ContextKey             string  `json:"context_key"`
		Uses                   int     `json:"uses"`
		Successes              int     `json:"successes"`
		Failures               int     `json:"failures"`
		AvgStepsWhenSuccessful float64 `json:"avg_steps_when_successful"`
	}
	_, err = col.ReadDocument(ctx, makeKey(skillID, contextKey), &doc)
	if err != nil {
		return &memory.ProceduralRow{SkillID: skillID, ContextKey: contextKey}, false, nil
	}
	return &memory.ProceduralRow{
		SkillID:                doc.SkillID,
		ContextKey:             doc.ContextKey,
		Uses:                   doc.Uses,
		Successes:              doc.Successes,
		Failures:               doc.Failures,
		AvgStepsWhenSuccessful: doc.AvgStepsWhenSuccessful,
	}, true, nil
}

// StoreEpisode writes the episode document and one step document per step,
// connected by "produced" edges. Re-storing an episode ID is idempotent:
// CreateDocument failures on an existing _key fall back to ReplaceDocument.
func (s *Store) StoreEpisode(ctx context.Context, episode memory.EpisodeRecord) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("database not initialized")
	}

	episodeCol, err := s.db.GetCollection(ctx, "episodes", nil)
	if err != nil {
		return false, fmt.Errorf("get collection episodes: %w", err)
	}
	stepCol, err := s.db.GetCollection(ctx, "steps", nil)
	if err != nil {
		return false, fmt.Errorf("get collection steps: %w", err)
	}
	producedCol, err := s.db.GetCollection(ctx, "produced", nil)
	if err != nil {
		return false, fmt.Errorf("get collection produced: %w", err)
	}

	episodeKey := makeKey("episode", episode.ID)
	episodeDoc := map[string]interface{}{
		"_key":                   episodeKey,
		"episode_id":             episode.ID,
		"quest_text":             episode.QuestText,
		"subgoals":               episode.Subgoals,
		"total_reward":           episode.TotalReward,
		"success":                episode.Success,
		"critical_state_history": episode.CriticalStateHistory,
		"plan_count":             episode.PlanCount,
	}
	if _, err := episodeCol.CreateDocument(ctx, episodeDoc); err != nil {
		if _, err := episodeCol.ReplaceDocument(ctx, episodeKey, episodeDoc); err != nil {
			return false, fmt.Errorf("upsert episode document: %w", err)
		}
	}

	for _, step := range episode.Steps {
		stepKey := makeKey("step", episode.ID, fmt.Sprintf("%d", step.StepIndex))
		data, err := json.Marshal(step)
		if err != nil {
			return false, fmt.Errorf("marshal step record: %w", err)
		}
		var stepDoc map[string]interface{}
		if err := json.Unmarshal(data, &stepDoc); err != nil {
			return false, fmt.Errorf("unmarshal step record: %w", err)
		}
		stepDoc["_key"] = stepKey

		if _, err := stepCol.CreateDocument(ctx, stepDoc); err != nil {
			if _, err := stepCol.ReplaceDocument(ctx, stepKey, stepDoc); err != nil {
				return false, fmt.Errorf("upsert step document: %w", err)
			}
		}

		edgeDoc := map[string]interface{}{
			"_key":  makeKey("produced", episodeKey, stepKey),
			"_from": fmt.Sprintf("episodes/%s", episodeKey),
			"_to":   fmt.Sprintf("steps/%s", stepKey),
		}
		if _, err := producedCol.CreateDocument(ctx, edgeDoc); err != nil {
			if _, err := producedCol.ReplaceDocument(ctx, edgeDoc["_key"].(string), edgeDoc); err != nil {
				return false, fmt.Errorf("upsert produced edge: %w", err)
			}
		}
	}

	return true, nil
}

// Retrieve traverses every episode's "produced" steps with an AQL query and
// scores them client-side against (room, action, currentSubgoal), matching
// spec §4.3's relevance/recency weighting.
func (s *Store) Retrieve(ctx context.Context, room, action, currentSubgoal string, topK int) ([]memory.RetrievedMemory, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if topK <= 0 {
		topK = s.retrieval.TopK
	}

	query := `
		FOR e IN episodes
			FOR v IN 1..1 OUTBOUND e GRAPH @graph
				OPTIONS { edgeCollections: ["produced"] }
				RETURN v
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"graph": graphName},
	})
	if err != nil {
		return nil, fmt.Errorf("execute traversal: %w", err)
	}
	defer cursor.Close()

	now := time.Now()
	type scored struct {
		mem       memory.RetrievedMemory
		score     float64
		recency   float64
		stepIndex int
	}
	var candidates []scored

	for cursor.HasMore() {
		var step memory.StepRecord
		if _, err := cursor.ReadDocument(ctx, &step); err != nil {
			return nil, fmt.Errorf("read step document: %w", err)
		}

		relevance := 0.0
		if step.Room != "" && step.Room == room {
			relevance += 2.0
		}
		if tokenset.SharesToken(step.Action, action) {
			relevance += 2.0
		}
		if currentSubgoal != "" && step.ActiveSubgoal != "" && tokenset.SharesToken(step.ActiveSubgoal, currentSubgoal) {
			relevance *= 1.5
		}
		if relevance <= 0 {
			continue
		}
		relevanceNorm := relevance / 5.0
		if relevanceNorm > 1 {
			relevanceNorm = 1
		}

		daysSince := now.Sub(step.Timestamp).Hours() / 24
		decayDays := s.retrieval.DecayWindow.Hours() / 24
		recency := 1 - daysSince/decayDays
		if recency < 0 {
			recency = 0
		}

		candidates = append(candidates, scored{
			mem: memory.RetrievedMemory{
				Action:     step.Action,
				Outcome:    step.Outcome,
				Confidence: step.Confidence,
				Summary:    step.ObservationDigest,
			},
			score:     0.7*relevanceNorm + 0.3*recency,
			recency:   recency,
			stepIndex: step.StepIndex,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].recency != candidates[j].recency {
			return candidates[i].recency > candidates[j].recency
		}
		return candidates[i].stepIndex < candidates[j].stepIndex
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]memory.RetrievedMemory, len(candidates))
	for i, c := range candidates {
		out[i] = c.mem
	}
	return out, nil
}
