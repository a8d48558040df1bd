package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputs(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{
			name:     "simple placeholder",
			content:  `echo "{{ .AccountName }}"`,
			expected: []string{"AccountName"},
		},
		{
			name:     "no spaces",
			content:  `echo "{{.AccountName}}"`,
			expected: []string{"AccountName"},
		},
		{
			name:     "piped form",
			content:  `echo "{{ .Region | upper }}"`,
			expected: []string{"Region"},
		},
		{
			name:     "dotted path reports root only",
			content:  `source = "{{ ._module.source }}"`,
			expected: []string{"_module"},
		},
		{
			name:     "bare identifier without leading dot is not a dependency",
			content:  `echo "{{ Variable }}"`,
			expected: nil,
		},
		{
			name: "range binds locals but surfaces the collection root",
			content: `{{ range $name, $account := .Accounts }}
echo "{{ $account.id }}"
{{ end }}`,
			expected: []string{"Accounts"},
		},
		{
			name:     "loop local with dotted access is not a dependency",
			content:  `{{ range $item := .Items }}{{ $item.value }}{{ end }}`,
			expected: []string{"Items"},
		},
		{
			name:     "conditional",
			content:  `{{ if eq .Env "prod" }}echo prod{{ end }}`,
			expected: []string{"Env"},
		},
		{
			name:     "blocks namespace is excluded",
			content:  `id="{{ ._blocks.create_vpc.outputs.vpc_id }}" name="{{ .Name }}"`,
			expected: []string{"Name"},
		},
		{
			name: "duplicates collapse, order preserved",
			content: `echo "{{ .B }}"
echo "{{ .A }}"
echo "{{ .B }}"`,
			expected: []string{"B", "A"},
		},
		{
			name:     "plain text without placeholders",
			content:  "#!/bin/bash\necho hello\n",
			expected: nil,
		},
		{
			name:     "trim markers",
			content:  `{{- .Name -}}`,
			expected: []string{"Name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Inputs(tt.content))
		})
	}
}

// Extraction must be idempotent: two passes over the same content agree.
func TestInputs_Idempotent(t *testing.T) {
	content := `echo "{{ .A }}" "{{ .B | lower }}" "{{ ._mod.path }}"`
	first := Inputs(content)
	second := Inputs(content)
	assert.Equal(t, first, second)
}

func TestOutputs(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []OutputRef
	}{
		{
			name:    "single reference",
			content: `account_id = "{{ ._blocks.create_account.outputs.account_id }}"`,
			expected: []OutputRef{
				{BlockID: "create_account", OutputName: "account_id", FullPath: "_blocks.create_account.outputs.account_id"},
			},
		},
		{
			name: "multiple outputs from one block",
			content: `a = "{{ ._blocks.create_account.outputs.account_id }}"
b = "{{ ._blocks.create_account.outputs.region }}"`,
			expected: []OutputRef{
				{BlockID: "create_account", OutputName: "account_id", FullPath: "_blocks.create_account.outputs.account_id"},
				{BlockID: "create_account", OutputName: "region", FullPath: "_blocks.create_account.outputs.region"},
			},
		},
		{
			name: "references to multiple blocks",
			content: `a = "{{ ._blocks.create_account.outputs.account_id }}"
b = "{{ ._blocks.create_vpc.outputs.vpc_id }}"`,
			expected: []OutputRef{
				{BlockID: "create_account", OutputName: "account_id", FullPath: "_blocks.create_account.outputs.account_id"},
				{BlockID: "create_vpc", OutputName: "vpc_id", FullPath: "_blocks.create_vpc.outputs.vpc_id"},
			},
		},
		{
			name:    "hyphenated block id is preserved for display, normalized in path",
			content: `a = "{{ ._blocks.create-account.outputs.account_id }}"`,
			expected: []OutputRef{
				{BlockID: "create-account", OutputName: "account_id", FullPath: "_blocks.create_account.outputs.account_id"},
			},
		},
		{
			name: "syntax variations",
			content: `a = "{{._blocks.block1.outputs.output1}}"
b = "{{ ._blocks.block2.outputs.output2 }}"
c = "{{ ._blocks.block3.outputs.output3 | upper }}"`,
			expected: []OutputRef{
				{BlockID: "block1", OutputName: "output1", FullPath: "_blocks.block1.outputs.output1"},
				{BlockID: "block2", OutputName: "output2", FullPath: "_blocks.block2.outputs.output2"},
				{BlockID: "block3", OutputName: "output3", FullPath: "_blocks.block3.outputs.output3"},
			},
		},
		{
			name:     "plain input placeholders are not output references",
			content:  `name = "{{ .Name }}" region = "{{ .Region }}"`,
			expected: nil,
		},
		{
			name: "duplicates are deduplicated",
			content: `a = "{{ ._blocks.block1.outputs.output1 }}"
b = "{{ ._blocks.block1.outputs.output1 }}"`,
			expected: []OutputRef{
				{BlockID: "block1", OutputName: "output1", FullPath: "_blocks.block1.outputs.output1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Outputs(tt.content))
		})
	}
}

func TestNormalizeBlockID(t *testing.T) {
	assert.Equal(t, "a_b", NormalizeBlockID("a-b"))
	assert.Equal(t, "a_b", NormalizeBlockID("a_b"))
	assert.Equal(t, "create_vpc_2", NormalizeBlockID("create-vpc-2"))
}
