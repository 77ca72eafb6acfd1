package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/telhawk-systems/logworker/internal/mapper"
	"github.com/telhawk-systems/logworker/internal/models"
)

var severities = []struct {
	name   string
	weight int
}{
	{"DEBUG", 15},
	{"INFO", 60},
	{"WARN", 15},
	{"ERROR", 9},
	{"FATAL", 1},
}

// generator builds fake log records for a fixed set of projects.
type generator struct {
	faker      *gofakeit.Faker
	rng        *rand.Rand
	projects   []string
	sessions   map[string][]string
	timeSpread time.Duration
	now        func() time.Time
}

func newGenerator(seed int64, projects int, timeSpread time.Duration) *generator {
	g := &generator{
		faker:      gofakeit.New(seed),
		rng:        rand.New(rand.NewSource(seed)),
		sessions:   make(map[string][]string),
		timeSpread: timeSpread,
		now:        time.Now,
	}
	for i := 0; i < max(1, projects); i++ {
		name := fmt.Sprintf("%s-%s", g.faker.AppName(), g.faker.Word())
		g.projects = append(g.projects, name)
		for j := 0; j < 5; j++ {
			g.sessions[name] = append(g.sessions[name], g.faker.UUID())
		}
	}
	return g
}

func (g *generator) severity() string {
	n := g.rng.Intn(100)
	for _, s := range severities {
		if n < s.weight {
			return s.name
		}
		n -= s.weight
	}
	return models.DefaultSeverity
}

func (g *generator) occurredAt() time.Time {
	now := g.now().UTC()
	if g.timeSpread <= 0 {
		return now
	}
	return now.Add(-time.Duration(g.rng.Int63n(int64(g.timeSpread))))
}

// record returns one valid request.
func (g *generator) record() models.RawLogRequest {
	project := g.projects[g.rng.Intn(len(g.projects))]
	sessions := g.sessions[project]
	severity := g.severity()

	req := models.RawLogRequest{
		LogID:      uuid.NewString(),
		ProjectID:  project,
		SessionID:  sessions[g.rng.Intn(len(sessions))],
		Severity:   severity,
		OccurredAt: g.occurredAt().Format(time.RFC3339Nano),
		Resource: map[string]any{
			"host":    g.faker.DomainName(),
			"service": g.faker.AppName(),
			"version": g.faker.AppVersion(),
		},
		Attributes: map[string]any{
			"http.method":      g.faker.HTTPMethod(),
			"http.status_code": g.faker.HTTPStatusCode(),
			"http.url":         g.faker.URL(),
			"client.ip":        g.faker.IPv4Address(),
			"user_agent":       g.faker.UserAgent(),
		},
	}

	if g.rng.Intn(3) > 0 {
		req.UserID = g.faker.Username()
	}
	if g.rng.Intn(2) == 0 {
		req.TraceID = g.faker.HexUint128()
		req.SpanID = g.faker.HexUint64()
	}

	switch severity {
	case "ERROR", "FATAL":
		req.Body = fmt.Sprintf("%s: %s", g.faker.Noun(), g.faker.Error().Error())
		req.Fingerprint = g.faker.HexUint64()
	default:
		req.Body = g.faker.HackerPhrase()
	}
	return req
}

// entry renders a request as stream fields, either flat or wrapped in the
// single payload field.
func entry(req models.RawLogRequest, envelope bool) (map[string]any, error) {
	if envelope {
		data, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}
		return map[string]any{mapper.FieldPayload: string(data)}, nil
	}
	return mapper.ToStreamValues(req)
}

// malformed returns an entry the worker must reject.
func (g *generator) malformed() map[string]any {
	switch g.rng.Intn(3) {
	case 0:
		return map[string]any{mapper.FieldBody: g.faker.Sentence(5)}
	case 1:
		return map[string]any{mapper.FieldPayload: "{not json"}
	default:
		return map[string]any{
			mapper.FieldProjectID:  g.projects[0],
			mapper.FieldSessionID:  g.faker.UUID(),
			mapper.FieldBody:       g.faker.Sentence(3),
			mapper.FieldAttributes: "[1,2,3]",
		}
	}
}
