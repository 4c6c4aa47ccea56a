package indexer_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"testing"

	"github.com/cucumber/godog"

	"github.com/leonunix/portalindex/internal/backend"
	"github.com/leonunix/portalindex/internal/backend/backendtest"
	"github.com/leonunix/portalindex/internal/indexer"
	"github.com/leonunix/portalindex/internal/source"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "rebuilds",
		ScenarioInitializer: initializeRebuildScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

type rebuildScenario struct {
	srv      *backendtest.Server
	client   *backend.Client
	cols     []indexer.Collection
	existing string
	result   indexer.Result
	results  []indexer.Result
}

func initializeRebuildScenario(sc *godog.ScenarioContext) {
	s := &rebuildScenario{}

	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if s.srv != nil {
			s.srv.Close()
		}
		return ctx, err
	})

	sc.Step(`^a search engine reporting version "([^"]*)"$`, s.searchEngine)
	sc.Step(`^a collection "([^"]*)" with (\d+) documents$`, s.collectionWithDocuments)
	sc.Step(`^a collection "([^"]*)" with (\d+) documents of which (\d+) cannot be serialized$`, s.collectionWithBrokenDocuments)
	sc.Step(`^a collection "([^"]*)" whose source fails$`, s.collectionWithFailingSource)
	sc.Step(`^the alias "([^"]*)" points to an existing generation where document "([^"]*)" is titled "([^"]*)"$`, s.existingGeneration)
	sc.Step(`^an unbound generation of "([^"]*)" left by an interrupted run$`, s.unboundGeneration)
	sc.Step(`^I regenerate "([^"]*)"$`, s.regenerate)
	sc.Step(`^I regenerate "([^"]*)" (\d+) times$`, s.regenerateTimes)
	sc.Step(`^I regenerate all collections$`, s.regenerateAll)
	sc.Step(`^the rebuild succeeds$`, s.rebuildSucceeds)
	sc.Step(`^the rebuild fails with (\d+) failed documents$`, s.rebuildFails)
	sc.Step(`^the alias "([^"]*)" points to the new generation$`, s.aliasOnNewGeneration)
	sc.Step(`^the alias "([^"]*)" still points to the existing generation$`, s.aliasOnExistingGeneration)
	sc.Step(`^document "([^"]*)" read through "([^"]*)" is titled "([^"]*)"$`, s.documentTitled)
	sc.Step(`^"([^"]*)" has (\d+) unbound generations$`, s.unboundGenerationCount)
	sc.Step(`^exactly (\d+) index is bound to "([^"]*)"$`, s.boundCount)
	sc.Step(`^collection "([^"]*)" is reported as "([^"]*)"$`, s.reportedAs)
}

func (s *rebuildScenario) searchEngine(version string) error {
	srv, err := backendtest.NewServer(version)
	if err != nil {
		return err
	}
	s.srv = srv
	s.client, err = backend.NewClient(backend.Config{URLs: []string{srv.URL}})
	return err
}

func (s *rebuildScenario) collectionWithDocuments(name string, n int) error {
	s.cols = append(s.cols, indexer.Collection{Name: name, Source: docs(n, name)})
	return nil
}

func (s *rebuildScenario) collectionWithBrokenDocuments(name string, n, broken int) error {
	src := docs(n, name)
	for i := 0; i < broken; i++ {
		src[i].Body["score"] = math.Inf(1)
	}
	s.cols = append(s.cols, indexer.Collection{Name: name, Source: src})
	return nil
}

func (s *rebuildScenario) collectionWithFailingSource(name string) error {
	src := source.Func(func(ctx context.Context) iter.Seq2[source.Document, error] {
		return func(yield func(source.Document, error) bool) {
			yield(source.Document{}, errors.New("upstream unavailable"))
		}
	})
	s.cols = append(s.cols, indexer.Collection{Name: name, Source: src})
	return nil
}

func (s *rebuildScenario) existingGeneration(alias, id, title string) error {
	s.existing = alias + "_2020-01-01-00h00m00.000000s"
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return err
	}
	s.srv.Seed(s.existing, map[string]string{id: string(body)}, alias)
	return nil
}

func (s *rebuildScenario) unboundGeneration(alias string) error {
	s.srv.Seed(alias+"_2019-01-01-00h00m00.000000s", map[string]string{"stale": `{}`})
	return nil
}

func (s *rebuildScenario) manager() (*indexer.Manager, error) {
	reg, err := indexer.NewRegistry(s.cols...)
	if err != nil {
		return nil, err
	}
	return indexer.NewManager(s.client, reg, indexer.WithClock(clock.Now)), nil
}

func (s *rebuildScenario) regenerate(name string) error {
	return s.regenerateTimes(name, 1)
}

func (s *rebuildScenario) regenerateTimes(name string, n int) error {
	m, err := s.manager()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		s.result = m.Regenerate(context.Background(), name)
	}
	return nil
}

func (s *rebuildScenario) regenerateAll() error {
	m, err := s.manager()
	if err != nil {
		return err
	}
	s.results = m.RegenerateAll(context.Background())
	return nil
}

func (s *rebuildScenario) rebuildSucceeds() error {
	if s.result.Status != indexer.StatusSuccess {
		return fmt.Errorf("expected success, got %s: %v", s.result.Status, s.result.Err)
	}
	return nil
}

func (s *rebuildScenario) rebuildFails(failed int) error {
	if s.result.Status != indexer.StatusFailed {
		return fmt.Errorf("expected failure, got %s", s.result.Status)
	}
	if !errors.Is(s.result.Err, indexer.ErrLoadFailures) {
		return fmt.Errorf("expected load failures, got %v", s.result.Err)
	}
	if s.result.Failed != failed {
		return fmt.Errorf("expected %d failed documents, got %d", failed, s.result.Failed)
	}
	return nil
}

func (s *rebuildScenario) aliasTargetIs(alias, want string) error {
	got := s.srv.AliasTargets(alias)
	if len(got) != 1 || got[0] != want {
		return fmt.Errorf("alias %s points to %v, want [%s]", alias, got, want)
	}
	return nil
}

func (s *rebuildScenario) aliasOnNewGeneration(alias string) error {
	return s.aliasTargetIs(alias, s.result.Index)
}

func (s *rebuildScenario) aliasOnExistingGeneration(alias string) error {
	return s.aliasTargetIs(alias, s.existing)
}

func (s *rebuildScenario) documentTitled(id, alias, title string) error {
	got, err := s.client.Get(context.Background(), alias, id)
	if err != nil {
		return err
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(got.Source, &body); err != nil {
		return err
	}
	if body.Title != title {
		return fmt.Errorf("document %s is titled %q, want %q", id, body.Title, title)
	}
	return nil
}

func (s *rebuildScenario) unboundGenerationCount(alias string, n int) error {
	if got := unboundGenerations(s.srv, alias); len(got) != n {
		return fmt.Errorf("expected %d unbound generations of %s, got %v", n, alias, got)
	}
	return nil
}

func (s *rebuildScenario) boundCount(n int, alias string) error {
	if got := s.srv.AliasTargets(alias); len(got) != n {
		return fmt.Errorf("expected %d indices bound to %s, got %v", n, alias, got)
	}
	return nil
}

func (s *rebuildScenario) reportedAs(name, status string) error {
	for _, r := range s.results {
		if r.Collection == name {
			if string(r.Status) != status {
				return fmt.Errorf("collection %s reported %s (%v), want %s", name, r.Status, r.Err, status)
			}
			return nil
		}
	}
	return fmt.Errorf("no result for collection %s", name)
}
