package backend

import (
	"net/url"
	"strconv"
)

// Project is a project record.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Methodology string `json:"methodology,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Status      string `json:"status,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ProjectInput is the body of project create and update calls.
type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Methodology string `json:"methodology,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
}

// AnalysisOptions selects what AnalyzeProject includes.
type AnalysisOptions struct {
	IncludeStructure bool `json:"include_structure"`
	IncludeRisks     bool `json:"include_risks"`
}

// ProjectAnalysis is the result of AnalyzeProject.
type ProjectAnalysis struct {
	Recommendations        []string       `json:"recommendations"`
	SuggestedStructure     map[string]any `json:"suggested_structure"`
	Risks                  []string       `json:"risks"`
	MethodologySuggestions string         `json:"methodology_suggestions"`
	TeamRoles              []string       `json:"team_roles"`
}

// Requirement is a stored requirement.
type Requirement struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	Identifier         string   `json:"identifier"`
	Name               string   `json:"name"`
	Shall              string   `json:"shall"`
	Rationale          string   `json:"rationale"`
	VerificationMethod string   `json:"verification_method"`
	Status             string   `json:"status,omitempty"`
	Category           string   `json:"category,omitempty"`
	Priority           *int     `json:"priority,omitempty"`
	Source             string   `json:"source,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Version            int      `json:"version,omitempty"`
	CreatedAt          string   `json:"created_at,omitempty"`
	UpdatedAt          string   `json:"updated_at,omitempty"`
}

// RequirementInput is the body of requirement create and update calls.
type RequirementInput struct {
	ProjectID          string   `json:"project_id"`
	Identifier         string   `json:"identifier"`
	Name               string   `json:"name"`
	Shall              string   `json:"shall"`
	Rationale          string   `json:"rationale"`
	VerificationMethod string   `json:"verification_method"`
	Status             string   `json:"status,omitempty"`
	Category           string   `json:"category,omitempty"`
	Priority           *int     `json:"priority,omitempty"`
	Source             string   `json:"source,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// RequirementFilter narrows ListRequirements. Zero fields are omitted.
type RequirementFilter struct {
	ProjectID string
	Status    string
	Category  string
	Skip      int
	Limit     int
}

func (f RequirementFilter) values() url.Values {
	v := url.Values{}
	if f.ProjectID != "" {
		v.Set("project_id", f.ProjectID)
	}
	if f.Status != "" {
		v.Set("status", f.Status)
	}
	if f.Category != "" {
		v.Set("category", f.Category)
	}
	if f.Skip > 0 {
		v.Set("skip", strconv.Itoa(f.Skip))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	return v
}

// ProcessRequest submits informal text for structuring into a requirement.
type ProcessRequest struct {
	ProjectID    string         `json:"project_id"`
	InformalText string         `json:"informal_text"`
	Context      map[string]any `json:"context,omitempty"`
}

// ProcessingStatus reports an asynchronous processing job.
type ProcessingStatus struct {
	ProcessingID string         `json:"processing_id"`
	Status       string         `json:"status"` // pending, processing, completed, failed
	Message      string         `json:"message,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ImportRequest adds a requirement to the knowledge base.
type ImportRequest struct {
	ProjectID       string         `json:"project_id"`
	RequirementData map[string]any `json:"requirement_data"`
}

// ImportResult is the result of ImportKnowledge.
type ImportResult struct {
	RequirementID   string           `json:"requirement_id"`
	Imported        bool             `json:"imported"`
	DuplicatesFound []map[string]any `json:"duplicates_found"`
	ConflictsFound  []map[string]any `json:"conflicts_found"`
}

// DuplicateAnalysis is the result of CheckDuplicates.
type DuplicateAnalysis struct {
	IsDuplicate     bool     `json:"is_duplicate"`
	DuplicateOf     []string `json:"duplicate_of"`
	SimilarityScore float64  `json:"similarity_score"`
	Reason          string   `json:"reason"`
}

// ConflictAnalysis is the result of CheckConflicts.
type ConflictAnalysis struct {
	HasConflicts bool             `json:"has_conflicts"`
	Conflicts    []map[string]any `json:"conflicts"`
}

// CompletenessAnalysis is the result of Completeness.
type CompletenessAnalysis struct {
	CompletenessScore float64  `json:"completeness_score"`
	MissingAreas      []string `json:"missing_areas"`
	Recommendations   []string `json:"recommendations"`
}

// GenerateSpecRequest asks for a specification of one requirement.
type GenerateSpecRequest struct {
	RequirementID          string         `json:"requirement_id"`
	SpecType               string         `json:"spec_type"` // user_story, use_case, rest_api, ...
	Context                map[string]any `json:"context,omitempty"`
	TemplateCustomizations map[string]any `json:"template_customizations,omitempty"`
}

// Specification is a generated specification.
type Specification struct {
	SpecificationID string `json:"specification_id"`
	RequirementID   string `json:"requirement_id"`
	SpecType        string `json:"spec_type"`
	Content         string `json:"content"`
	Format          string `json:"format"`
}

// Template describes a specification template.
type Template struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RequirementSpecs lists the specifications generated for a requirement.
type RequirementSpecs struct {
	RequirementID  string          `json:"requirement_id"`
	Specifications []Specification `json:"specifications"`
}
