package ssmhandlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
)

// documentNameRe matches the original's document_name_re (spec.md §4.8).
var documentNameRe = regexp.MustCompile(`^[A-Za-z0-9_\-.]{3,128}$`)

// commandDocument is the "Command" document shape this service
// understands: exactly one mainStep whose inputs.runCommand lines are
// concatenated into a bash script by SendCommand. Documents with zero or
// more than one step are rejected, matching the original's single-step
// limitation.
type commandDocument struct {
	MainSteps []struct {
		Inputs struct {
			RunCommand []string `json:"runCommand"`
		} `json:"inputs"`
	} `json:"mainSteps"`
}

// CreateDocument validates and stores a Command document as normalized
// JSON, accepting either a JSON or a YAML document body.
func (e *Engine) CreateDocument(ctx context.Context, body map[string]any) (any, error) {
	name, err := requireStr(body, "Name")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	if !documentNameRe.MatchString(name) {
		return nil, apierror.InvalidParameterValue("the name %q doesn't match the regex %s", name, documentNameRe.String())
	}

	docType := str(body, "DocumentType")
	if docType == "" {
		docType = "Command"
	}
	if docType != "Command" {
		return nil, apierror.InvalidParameterValue("the %q document type is not implemented", docType)
	}

	content := str(body, "Content")
	format := strings.ToLower(str(body, "DocumentFormat"))
	if format == "" {
		format = "json"
	}

	var normalized []byte
	switch format {
	case "json":
		var v any
		if err := json.Unmarshal([]byte(content), &v); err != nil {
			return nil, apierror.InvalidParameterValue("content is not valid JSON: %s", err)
		}
		normalized, err = json.Marshal(v)
	case "yaml":
		normalized, err = yaml.YAMLToJSON([]byte(content))
	case "text":
		return nil, apierror.InvalidParameterValue("text document format is not implemented")
	default:
		return nil, apierror.InvalidParameterValue("%q is not a valid document format", format)
	}
	if err != nil {
		return nil, apierror.InvalidParameterValue("content is not valid %s: %s", format, err)
	}

	var doc commandDocument
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, apierror.InvalidParameterValue("content does not match the Command document schema: %s", err)
	}
	switch len(doc.MainSteps) {
	case 0:
		return nil, apierror.InvalidParameterValue("document doesn't have any steps")
	case 1:
	default:
		return nil, apierror.InvalidParameterValue("multiple steps are not currently implemented")
	}

	if _, err := store.GetSSMDocument(ctx, e.Store.DB(), name); err == nil {
		return nil, apierror.InvalidParameterValue("document %q already exists", name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apierror.Internal("check existing document: %s", err)
	}

	err = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.InsertSSMDocument(ctx, tx, name, string(normalized))
	})
	if err != nil {
		return nil, apierror.Internal("create document: %s", err)
	}

	return map[string]any{
		"Name":   name,
		"Status": "Active",
	}, nil
}
