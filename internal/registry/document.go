package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"sigs.k8s.io/yaml"

	"proccontrol/pkg/logging"
)

// Workflow categories known to the controller.
const (
	CategoryRealtime = "realtime"
	CategoryBatch    = "batch"
)

// DefaultCategories are resolved when no other set is configured.
var DefaultCategories = []string{CategoryRealtime, CategoryBatch}

const (
	metadataKey     = "version"
	repositoriesKey = "repositories"
	workflowsKey    = "workflows"
)

//go:embed schema/workflows.json
var schemaJSON string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("workflows.json", schemaJSON)
	})
	return compiledSchema, schemaErr
}

// Snapshot is one immutable set of workflow definitions.
type Snapshot struct {
	// token is the canonical JSON of the document's metadata object.
	token string

	// images maps category -> workflow id -> version -> image.
	images map[string]map[string]map[string]string
}

// Token returns the document metadata that identifies this release, as
// canonical JSON.
func (s *Snapshot) Token() string {
	return s.token
}

// Metadata decodes the document metadata.
func (s *Snapshot) Metadata() map[string]interface{} {
	out := map[string]interface{}{}
	_ = json.Unmarshal([]byte(s.token), &out)
	return out
}

// Len returns the number of (category, id, version) entries.
func (s *Snapshot) Len() int {
	n := 0
	for _, ids := range s.images {
		for _, versions := range ids {
			n += len(versions)
		}
	}
	return n
}

// Counts returns the number of entries per category.
func (s *Snapshot) Counts() map[string]int {
	out := make(map[string]int, len(s.images))
	for category, ids := range s.images {
		n := 0
		for _, versions := range ids {
			n += len(versions)
		}
		out[category] = n
	}
	return out
}

// Categories returns the categories of this snapshot, sorted.
func (s *Snapshot) Categories() []string {
	out := make([]string, 0, len(s.images))
	for c := range s.images {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Entry is one resolvable workflow version.
type Entry struct {
	Category string
	ID       string
	Version  string
	Image    string
}

// Entries lists every workflow version, sorted by category, id and version.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, 0, s.Len())
	for category, ids := range s.images {
		for id, versions := range ids {
			for version, image := range versions {
				out = append(out, Entry{Category: category, ID: id, Version: version, Image: image})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Version < b.Version
	})
	return out
}

// Resolve returns the image for a workflow.
func (s *Snapshot) Resolve(category, id, version string) (string, error) {
	ids, ok := s.images[category]
	if !ok {
		return "", notFound("unknown workflow type %q", category)
	}
	versions, ok := ids[id]
	if !ok {
		return "", notFound("unknown workflow %q", id)
	}
	image, ok := versions[version]
	if !ok {
		return "", notFound("unknown version %q of workflow %q", version, id)
	}
	return image, nil
}

type repositoryEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type workflowEntry struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Repository string   `json:"repository"`
	Image      string   `json:"image"`
	Versions   []string `json:"versions"`
}

// Parse decodes and validates a workflow definitions document. The document
// is JSON or YAML and takes one of two forms, which may be combined:
//
//	{"version": {...}, "batch": {"<id>": {"<version>": "<image>"}}, "realtime": {...}}
//	{"version": {...}, "repositories": [{"name", "path"}], "workflows": [{"type", "id", "repository", "image", "versions"}]}
//
// Only the given categories are kept. Errors are *RefreshError with stage
// parse or validate.
func Parse(data []byte, categories []string) (*Snapshot, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, &RefreshError{Stage: StageParse, Err: err}
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, &RefreshError{Stage: StageParse, Err: err}
	}

	schema, err := documentSchema()
	if err != nil {
		return nil, &RefreshError{Stage: StageValidate, Err: fmt.Errorf("schema: %w", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &RefreshError{Stage: StageValidate, Err: err}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, &RefreshError{Stage: StageParse, Err: err}
	}
	return build(raw, categories)
}

func build(raw map[string]json.RawMessage, categories []string) (*Snapshot, error) {
	var meta map[string]interface{}
	if err := json.Unmarshal(raw[metadataKey], &meta); err != nil {
		return nil, &RefreshError{Stage: StageParse, Err: fmt.Errorf("%s: %w", metadataKey, err)}
	}
	// Map keys are marshalled in sorted order, so equal metadata gives an
	// equal token regardless of how the document was formatted.
	token, err := json.Marshal(meta)
	if err != nil {
		return nil, &RefreshError{Stage: StageParse, Err: err}
	}

	snap := &Snapshot{
		token:  string(token),
		images: make(map[string]map[string]map[string]string, len(categories)),
	}
	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
		snap.images[c] = map[string]map[string]string{}
	}

	for key, value := range raw {
		switch key {
		case metadataKey, repositoriesKey, workflowsKey:
			continue
		}
		if !wanted[key] {
			logging.Warn("Registry", "Ignoring unknown workflow category %s", key)
			continue
		}
		var ids map[string]map[string]string
		if err := json.Unmarshal(value, &ids); err != nil {
			return nil, &RefreshError{Stage: StageParse, Err: fmt.Errorf("%s: %w", key, err)}
		}
		for id, versions := range ids {
			for version, image := range versions {
				snap.add(key, id, version, image)
			}
		}
	}

	if err := snap.addRepositoryForm(raw, wanted); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Snapshot) add(category, id, version, image string) {
	ids := s.images[category]
	versions, ok := ids[id]
	if !ok {
		versions = map[string]string{}
		ids[id] = versions
	}
	if _, dup := versions[version]; dup {
		logging.Warn("Registry", "%s workflow %s version %s already defined, will be overwritten", category, id, version)
	}
	versions[version] = image
}

// addRepositoryForm expands the repositories/workflows lists into images of
// the form <repository path>/<image>:<version>.
func (s *Snapshot) addRepositoryForm(raw map[string]json.RawMessage, wanted map[string]bool) error {
	if _, ok := raw[workflowsKey]; !ok {
		return nil
	}

	var repos []repositoryEntry
	if err := json.Unmarshal(raw[repositoriesKey], &repos); err != nil {
		return &RefreshError{Stage: StageParse, Err: fmt.Errorf("%s: %w", repositoriesKey, err)}
	}
	var workflows []workflowEntry
	if err := json.Unmarshal(raw[workflowsKey], &workflows); err != nil {
		return &RefreshError{Stage: StageParse, Err: fmt.Errorf("%s: %w", workflowsKey, err)}
	}

	paths := make(map[string]string, len(repos))
	for _, r := range repos {
		if _, dup := paths[r.Name]; dup {
			logging.Warn("Registry", "Repository %s already defined, will be overwritten", r.Name)
		}
		paths[r.Name] = strings.TrimSuffix(r.Path, "/")
	}

	for _, wf := range workflows {
		path, ok := paths[wf.Repository]
		if !ok {
			logging.Warn("Registry", "Repository %s for %s workflow %s not found, skipping", wf.Repository, wf.Type, wf.ID)
			continue
		}
		if !wanted[wf.Type] {
			logging.Warn("Registry", "Workflow %s has unknown type %s, skipping", wf.ID, wf.Type)
			continue
		}
		for _, version := range wf.Versions {
			s.add(wf.Type, wf.ID, version, path+"/"+wf.Image+":"+version)
		}
	}
	return nil
}
