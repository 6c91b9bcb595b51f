// Package campaign loads the static campaign definitions embedded in the
// binary. A campaign binds a platform recipe to the commit and pull request
// text used when publishing its results. Definitions are immutable; they are
// parsed once at first use and never mutated.
package campaign

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed campaigns
var campaignsFS embed.FS

// UnknownCampaignError is returned by Resolve for an unregistered identifier.
type UnknownCampaignError struct {
	Name string
}

func (e *UnknownCampaignError) Error() string {
	return fmt.Sprintf("unknown campaign %q", e.Name)
}

// Marker describes content whose presence indicates a repository is already
// patched and should be skipped.
type Marker struct {
	Path     string `yaml:"path"`
	Contains string `yaml:"contains"`
}

// Campaign is one named, repeatable fix operation.
type Campaign struct {
	Name          string
	RecipeID      string
	Branch        string
	CommitTitle   string
	CommitBody    string
	PRTitle       string
	PRBody        string
	RequiredFiles []string
	AlreadyFixed  []Marker
}

// CommitMessage returns the full commit message: title, blank line, body.
func (c *Campaign) CommitMessage() string {
	return c.CommitTitle + "\n\n" + c.CommitBody
}

// RecipeYAML renders the platform recipe declaration wrapping the campaign's
// recipe id. The recipe is applied to non-test sources first; only if that
// produces changes is it applied to all sources.
func (c *Campaign) RecipeYAML() string {
	return fmt.Sprintf(`type: specs.openrewrite.org/v1beta/recipe
name: io.inovacc.patchrun.SecurityFixRecipe
displayName: Apply %[1]s
description: >
  Applies %[1]s to non-test sources first, if changes are made, then apply to all sources.
applicability:
  anySource:
    - org.openrewrite.java.search.IsLikelyNotTest
    - %[1]s
recipeList:
  - %[1]s
`, "`"+c.RecipeID+"`")
}

// RecipeYAMLBase64 returns RecipeYAML encoded the way the platform's
// runYamlRecipe mutation expects it.
func (c *Campaign) RecipeYAMLBase64() string {
	return base64.StdEncoding.EncodeToString([]byte(c.RecipeYAML()))
}

type campaignYAML struct {
	Recipe struct {
		ID string `yaml:"id"`
	} `yaml:"recipe"`
	BranchName string `yaml:"branch_name"`
	Filters    struct {
		RequiredFiles []string `yaml:"required_files"`
		AlreadyFixed  []Marker `yaml:"already_fixed"`
	} `yaml:"filters"`
}

type footers struct {
	commit   *template.Template
	prTop    *template.Template
	prStatic string
	prBottom *template.Template
}

var (
	loadOnce sync.Once
	loaded   map[string]*Campaign
	loadErr  error
)

// Resolve returns the campaign registered under name, or an
// *UnknownCampaignError. Resolution never touches the network.
func Resolve(name string) (*Campaign, error) {
	loadOnce.Do(loadAll)
	if loadErr != nil {
		return nil, loadErr
	}
	c, ok := loaded[name]
	if !ok {
		return nil, &UnknownCampaignError{Name: name}
	}
	return c, nil
}

// List returns the registered campaign names, sorted.
func List() ([]string, error) {
	loadOnce.Do(loadAll)
	if loadErr != nil {
		return nil, loadErr
	}
	names := make([]string, 0, len(loaded))
	for name := range loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func loadAll() {
	f, err := loadFooters()
	if err != nil {
		loadErr = err
		return
	}

	entries, err := campaignsFS.ReadDir("campaigns")
	if err != nil {
		loadErr = fmt.Errorf("failed to read embedded campaigns: %w", err)
		return
	}

	loaded = make(map[string]*Campaign)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		c, err := load(entry.Name(), f)
		if err != nil {
			loadErr = fmt.Errorf("failed to load campaign %q: %w", entry.Name(), err)
			return
		}
		loaded[c.Name] = c
	}
}

func load(name string, f *footers) (*Campaign, error) {
	raw, err := readFile(name, "campaign.yaml")
	if err != nil {
		return nil, err
	}

	var def campaignYAML
	if err := yaml.Unmarshal([]byte(raw), &def); err != nil {
		return nil, fmt.Errorf("invalid campaign.yaml: %w", err)
	}
	if def.Recipe.ID == "" {
		return nil, fmt.Errorf("campaign.yaml is missing recipe.id")
	}
	if def.BranchName == "" {
		return nil, fmt.Errorf("campaign.yaml is missing branch_name")
	}

	commitTitle, commitBody, err := readTitleAndBody(name, "commit.txt")
	if err != nil {
		return nil, err
	}
	prTitle, prBody, err := readTitleAndBody(name, "pr_message.md")
	if err != nil {
		return nil, err
	}

	data := map[string]string{
		"Name":     name,
		"RecipeID": def.Recipe.ID,
		"Branch":   def.BranchName,
	}

	commitFooter, err := render(f.commit, data)
	if err != nil {
		return nil, err
	}
	prTop, err := render(f.prTop, data)
	if err != nil {
		return nil, err
	}
	prBottom, err := render(f.prBottom, data)
	if err != nil {
		return nil, err
	}

	return &Campaign{
		Name:          name,
		RecipeID:      def.Recipe.ID,
		Branch:        def.BranchName,
		CommitTitle:   commitTitle,
		CommitBody:    commitBody + commitFooter,
		PRTitle:       prTitle,
		PRBody:        prBody + prTop + f.prStatic + prBottom,
		RequiredFiles: def.Filters.RequiredFiles,
		AlreadyFixed:  def.Filters.AlreadyFixed,
	}, nil
}

func loadFooters() (*footers, error) {
	commit, err := readTemplate("commit_footer.txt.tmpl")
	if err != nil {
		return nil, err
	}
	prTop, err := readTemplate("pr_footer_top.md.tmpl")
	if err != nil {
		return nil, err
	}
	prStatic, err := campaignsFS.ReadFile("campaigns/pr_footer.md")
	if err != nil {
		return nil, fmt.Errorf("failed to read pr_footer.md: %w", err)
	}
	prBottom, err := readTemplate("pr_footer_bottom.md.tmpl")
	if err != nil {
		return nil, err
	}
	return &footers{
		commit:   commit,
		prTop:    prTop,
		prStatic: string(prStatic),
		prBottom: prBottom,
	}, nil
}

func readTemplate(name string) (*template.Template, error) {
	raw, err := campaignsFS.ReadFile("campaigns/" + name)
	if err != nil {
		return nil, fmt.Errorf("failed to read footer %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse footer %s: %w", name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func readFile(campaign, name string) (string, error) {
	raw, err := campaignsFS.ReadFile("campaigns/" + campaign + "/" + name)
	if err != nil {
		return "", fmt.Errorf("missing required file %s: %w", name, err)
	}
	return string(raw), nil
}

// readTitleAndBody splits a message file into its first line and the rest,
// mirroring git's one-line-subject convention.
func readTitleAndBody(campaign, name string) (title, body string, err error) {
	raw, err := readFile(campaign, name)
	if err != nil {
		return "", "", err
	}
	title, body, _ = strings.Cut(raw, "\n")
	return strings.TrimSpace(title), strings.TrimSpace(body) + "\n", nil
}
