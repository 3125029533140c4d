package scaffold

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/scrivenerlabs/scrivener/capability"
)

// stubData feeds the stub templates. Params is the pre-joined parameter
// list including its leading comma, so signatures render in one piece.
type stubData struct {
	Name        string
	Description string
	Params      string
}

// Stub templates per capability type. Each produces a Python function whose
// name matches the capability name, with a TODO body the evolution engine
// fills in over the capability's lifetime.
const (
	defaultStub = `def {{.Name}}(self{{.Params}}):
    """
    {{.Description}}
    """
    print(f"[CAPABILITY] Executing {{.Name}}")

    # TODO: Implement {{.Description}}

    return True
`

	coreStub = `def {{.Name}}(self{{.Params}}):
    """
    {{.Description}}

    This is a core capability that provides essential functionality.
    """
    print(f"[CORE CAPABILITY] Executing {{.Name}}")

    # TODO: Implement {{.Description}}

    return True
`

	interactionStub = `def {{.Name}}(self{{.Params}}):
    """
    {{.Description}}

    This capability drives the word processor or another application.
    """
    print(f"[INTERACTION CAPABILITY] Executing {{.Name}}")

    # Check that the editor is reachable before driving it
    if hasattr(self, 'check_editor_active') and callable(self.check_editor_active):
        if not self.check_editor_active():
            print("[WARNING] Editor is not active")
            return False

    # TODO: Implement {{.Description}}

    return True
`

	analysisStub = `def {{.Name}}(self{{.Params}}):
    """
    {{.Description}}

    This capability analyzes document content or structure.
    """
    print(f"[ANALYSIS CAPABILITY] Executing {{.Name}}")

    # TODO: Implement {{.Description}}

    # Return analysis results
    return {
        "success": True,
        "results": {},
        "timestamp": datetime.datetime.now().isoformat()
    }
`

	generationStub = `def {{.Name}}(self{{.Params}}):
    """
    {{.Description}}

    This capability generates content or performs creative tasks.
    """
    print(f"[GENERATION CAPABILITY] Executing {{.Name}}")

    # TODO: Implement {{.Description}}

    # Return generated content
    return {
        "success": True,
        "content": "",
        "timestamp": datetime.datetime.now().isoformat()
    }
`

	adaptationStub = `def {{.Name}}(self{{.Params}}):
    """
    {{.Description}}

    This capability adapts behavior to the current context.
    """
    print(f"[ADAPTATION CAPABILITY] Executing {{.Name}}")

    # Get current context if available
    context = None
    if hasattr(self, 'understand_context') and callable(self.understand_context):
        context = self.understand_context()

    # TODO: Implement {{.Description}}

    return {
        "success": True,
        "adapted": False,
        "context": context
    }
`

	metaStub = `def {{.Name}}(self{{.Params}}):
    """
    {{.Description}}

    This is a meta-capability that works with other capabilities.
    """
    print(f"[META CAPABILITY] Executing {{.Name}}")

    # Get available capabilities
    capabilities = None
    if hasattr(self, 'registry') and hasattr(self.registry, 'list_capabilities'):
        capabilities = self.registry.list_capabilities()

    # TODO: Implement {{.Description}}

    return {
        "success": True,
        "capabilities_seen": len(capabilities) if capabilities else 0
    }
`
)

var stubTemplates = map[capability.Type]*template.Template{
	capability.TypeCore:        template.Must(template.New("core").Parse(coreStub)),
	capability.TypeInteraction: template.Must(template.New("interaction").Parse(interactionStub)),
	capability.TypeAnalysis:    template.Must(template.New("analysis").Parse(analysisStub)),
	capability.TypeGeneration:  template.Must(template.New("generation").Parse(generationStub)),
	capability.TypeAdaptation:  template.Must(template.New("adaptation").Parse(adaptationStub)),
	capability.TypeMeta:        template.Must(template.New("meta").Parse(metaStub)),
}

var defaultTemplate = template.Must(template.New("default").Parse(defaultStub))

// renderStub produces the Python stub for a capability.
func renderStub(typ capability.Type, name, description string, params []string) (string, error) {
	tmpl, ok := stubTemplates[typ]
	if !ok {
		tmpl = defaultTemplate
	}

	data := stubData{
		Name:        name,
		Description: description,
	}
	if len(params) > 0 {
		data.Params = ", " + strings.Join(params, ", ")
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
