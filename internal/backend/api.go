package backend

import (
	"context"
	"errors"
	"net/http"
)

var errEmptyID = errors.New("id is required")

func requireID(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return errEmptyID
		}
	}
	return nil
}

// Health reports whether the API answers its health probe.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.call(ctx, "Health", http.MethodGet, "/health", nil, nil, &out)
	return out, err
}

// ListProjects returns all projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := c.call(ctx, "ListProjects", http.MethodGet, "/projects", nil, nil, &out)
	return out, err
}

// GetProject returns one project.
func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	var out Project
	if err := c.call(ctx, "GetProject", http.MethodGet, "/projects/"+escape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, in ProjectInput) (*Project, error) {
	var out Project
	if err := c.call(ctx, "CreateProject", http.MethodPost, "/projects", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProject replaces a project's fields.
func (c *Client) UpdateProject(ctx context.Context, id string, in ProjectInput) (*Project, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	var out Project
	if err := c.call(ctx, "UpdateProject", http.MethodPut, "/projects/"+escape(id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeProject runs the project analysis.
func (c *Client) AnalyzeProject(ctx context.Context, id string, opts AnalysisOptions) (*ProjectAnalysis, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	var out ProjectAnalysis
	if err := c.call(ctx, "AnalyzeProject", http.MethodPost, "/projects/"+escape(id)+"/analyze", nil, opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRequirements returns stored requirements matching f.
func (c *Client) ListRequirements(ctx context.Context, f RequirementFilter) ([]Requirement, error) {
	var out []Requirement
	err := c.call(ctx, "ListRequirements", http.MethodGet, "/storage/requirements", f.values(), nil, &out)
	return out, err
}

// GetRequirement returns one stored requirement.
func (c *Client) GetRequirement(ctx context.Context, id string) (*Requirement, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	var out Requirement
	if err := c.call(ctx, "GetRequirement", http.MethodGet, "/storage/requirements/"+escape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRequirement stores a requirement.
func (c *Client) CreateRequirement(ctx context.Context, in RequirementInput) (*Requirement, error) {
	var out Requirement
	if err := c.call(ctx, "CreateRequirement", http.MethodPost, "/storage/requirements", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRequirement replaces a stored requirement.
func (c *Client) UpdateRequirement(ctx context.Context, id string, in RequirementInput) (*Requirement, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	var out Requirement
	if err := c.call(ctx, "UpdateRequirement", http.MethodPut, "/storage/requirements/"+escape(id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRequirement removes a stored requirement.
func (c *Client) DeleteRequirement(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return c.call(ctx, "DeleteRequirement", http.MethodDelete, "/storage/requirements/"+escape(id), nil, nil, nil)
}

// ProcessRequirement submits informal text for asynchronous processing.
func (c *Client) ProcessRequirement(ctx context.Context, in ProcessRequest) (*ProcessingStatus, error) {
	var out ProcessingStatus
	if err := c.call(ctx, "ProcessRequirement", http.MethodPost, "/requirements/process", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessingStatus polls a processing job.
func (c *Client) ProcessingStatus(ctx context.Context, processingID string) (*ProcessingStatus, error) {
	if err := requireID(processingID); err != nil {
		return nil, err
	}
	var out ProcessingStatus
	if err := c.call(ctx, "ProcessingStatus", http.MethodGet, "/requirements/process/"+escape(processingID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportKnowledge adds a requirement to the knowledge base.
func (c *Client) ImportKnowledge(ctx context.Context, in ImportRequest) (*ImportResult, error) {
	var out ImportResult
	if err := c.call(ctx, "ImportKnowledge", http.MethodPost, "/knowledge/import", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckDuplicates looks for near duplicates of a requirement.
func (c *Client) CheckDuplicates(ctx context.Context, requirementID string) (*DuplicateAnalysis, error) {
	if err := requireID(requirementID); err != nil {
		return nil, err
	}
	var out DuplicateAnalysis
	if err := c.call(ctx, "CheckDuplicates", http.MethodGet, "/knowledge/duplicates/"+escape(requirementID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckConflicts looks for requirements that contradict one another.
func (c *Client) CheckConflicts(ctx context.Context, requirementID string) (*ConflictAnalysis, error) {
	if err := requireID(requirementID); err != nil {
		return nil, err
	}
	var out ConflictAnalysis
	if err := c.call(ctx, "CheckConflicts", http.MethodGet, "/knowledge/conflicts/"+escape(requirementID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recommendations returns requirements related to requirementID.
func (c *Client) Recommendations(ctx context.Context, requirementID string) ([]map[string]any, error) {
	if err := requireID(requirementID); err != nil {
		return nil, err
	}
	var out []map[string]any
	err := c.call(ctx, "Recommendations", http.MethodGet, "/knowledge/recommendations/"+escape(requirementID), nil, nil, &out)
	return out, err
}

// Completeness scores how complete a project's requirement set is.
func (c *Client) Completeness(ctx context.Context, projectID string) (*CompletenessAnalysis, error) {
	if err := requireID(projectID); err != nil {
		return nil, err
	}
	var out CompletenessAnalysis
	if err := c.call(ctx, "Completeness", http.MethodGet, "/knowledge/completeness/"+escape(projectID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Graph returns the requirement graph of a project.
func (c *Client) Graph(ctx context.Context, projectID string) (map[string]any, error) {
	if err := requireID(projectID); err != nil {
		return nil, err
	}
	var out map[string]any
	err := c.call(ctx, "Graph", http.MethodGet, "/knowledge/graph/"+escape(projectID), nil, nil, &out)
	return out, err
}

// GenerateSpec generates a specification for a requirement.
func (c *Client) GenerateSpec(ctx context.Context, in GenerateSpecRequest) (*Specification, error) {
	var out Specification
	if err := c.call(ctx, "GenerateSpec", http.MethodPost, "/specs/generate", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTemplates returns the specification templates keyed by type.
func (c *Client) ListTemplates(ctx context.Context) (map[string]Template, error) {
	var out map[string]Template
	err := c.call(ctx, "ListTemplates", http.MethodGet, "/specs/templates", nil, nil, &out)
	return out, err
}

// GetTemplate returns one specification template.
func (c *Client) GetTemplate(ctx context.Context, specType string) (map[string]any, error) {
	if err := requireID(specType); err != nil {
		return nil, err
	}
	var out map[string]any
	err := c.call(ctx, "GetTemplate", http.MethodGet, "/specs/templates/"+escape(specType), nil, nil, &out)
	return out, err
}

// RequirementSpecs lists specifications generated for a requirement.
func (c *Client) RequirementSpecs(ctx context.Context, requirementID string) (*RequirementSpecs, error) {
	if err := requireID(requirementID); err != nil {
		return nil, err
	}
	var out RequirementSpecs
	if err := c.call(ctx, "RequirementSpecs", http.MethodGet, "/specs/requirements/"+escape(requirementID)+"/specs", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
