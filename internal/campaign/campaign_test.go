package campaign

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve("no-such-campaign")
	require.Error(t, err)

	var unknown *UnknownCampaignError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "no-such-campaign", unknown.Name)
	assert.Contains(t, err.Error(), "no-such-campaign")
}

func TestList(t *testing.T) {
	names, err := List()
	require.NoError(t, err)
	assert.Equal(t, []string{"http-to-https-gradle", "temp-dir-hijacking", "zip-slip"}, names)
}

func TestResolveLoadsDefinition(t *testing.T) {
	camp, err := Resolve("http-to-https-gradle")
	require.NoError(t, err)

	assert.Equal(t, "http-to-https-gradle", camp.Name)
	assert.Equal(t, "org.openrewrite.java.security.UseHttpsForRepositories", camp.RecipeID)
	assert.Equal(t, "patchrun/use-https-for-repositories", camp.Branch)
	assert.Equal(t, []string{"build.gradle", "build.gradle.kts"}, camp.RequiredFiles)

	require.Len(t, camp.AlreadyFixed, 1)
	assert.Equal(t, "build.gradle", camp.AlreadyFixed[0].Path)
	assert.Equal(t, "// patchrun:use-https-for-repositories", camp.AlreadyFixed[0].Contains)
}

func TestTitleBodySplit(t *testing.T) {
	camp, err := Resolve("http-to-https-gradle")
	require.NoError(t, err)

	assert.Equal(t, "vuln-fix: Use HTTPS instead of HTTP to resolve dependencies", camp.CommitTitle)
	assert.False(t, strings.Contains(camp.CommitTitle, "\n"))
	assert.Contains(t, camp.CommitBody, "CWE-829")

	assert.Equal(t, "Use HTTPS instead of HTTP to resolve dependencies", camp.PRTitle)
	assert.Contains(t, camp.PRBody, "man-in-the-middle")
}

func TestFootersRendered(t *testing.T) {
	camp, err := Resolve("zip-slip")
	require.NoError(t, err)

	assert.Contains(t, camp.CommitBody, "campaign `zip-slip`")
	assert.Contains(t, camp.CommitBody, "Co-authored-by: patchrun bot")
	assert.NotContains(t, camp.CommitBody, "{{")

	assert.Contains(t, camp.PRBody, "GH-ROBOTS.txt")
	assert.Contains(t, camp.PRBody, "`"+camp.Branch+"`")
	assert.NotContains(t, camp.PRBody, "{{")
}

func TestCommitMessage(t *testing.T) {
	camp := &Campaign{CommitTitle: "fix: a thing", CommitBody: "details\n"}
	assert.Equal(t, "fix: a thing\n\ndetails\n", camp.CommitMessage())
}

func TestRecipeYAML(t *testing.T) {
	camp, err := Resolve("zip-slip")
	require.NoError(t, err)

	y := camp.RecipeYAML()
	assert.Contains(t, y, "type: specs.openrewrite.org/v1beta/recipe")
	assert.Contains(t, y, "name: io.inovacc.patchrun.SecurityFixRecipe")
	assert.Contains(t, y, "`"+camp.RecipeID+"`")
	assert.Contains(t, y, "org.openrewrite.java.search.IsLikelyNotTest")

	decoded, err := base64.StdEncoding.DecodeString(camp.RecipeYAMLBase64())
	require.NoError(t, err)
	assert.Equal(t, y, string(decoded))
}
