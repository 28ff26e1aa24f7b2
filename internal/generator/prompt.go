package generator

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"parc/internal/domain"
	"parc/internal/graph"
	"parc/internal/repository"
)

const (
	InitialTitle  = "Emergent Bias in Human-AI Cognitive Systems: A Polymath Exploration"
	InitialUsers  = 10
	EventsPerCall = 15
)

var InitialDomains = []string{"AI Ethics", "Neuroscience", "Complex Systems"}

const systemInstruction = "You are the Conductor of the Polymath AI Research Community's autonomous workflow. " +
	"Your task is to orchestrate a complete, simulated research cycle. You must generate a creative, coherent, " +
	"and logically consistent narrative of scientific discovery. The output MUST be a single, valid JSON object " +
	"that strictly adheres to the provided schema. Do not include any explanatory text or markdown formatting " +
	"outside of the JSON structure."

// Prompt builds the request for the next chunk. A nil previous asks for a fresh
// simulation; otherwise the prompt restates the established context.
func Prompt(previous *domain.SimulationResult) string {
	if previous == nil {
		return initialPrompt()
	}
	return continuationPrompt(previous)
}

func initialPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Simulate an initial 24-hour research cycle for the Polymath AI Research Community (PARC), titled %q.\n\n", InitialTitle)
	fmt.Fprintf(&b, "1. Select Domains: the primary domains are %s.\n", strings.Join(InitialDomains, ", "))
	fmt.Fprintf(&b, "2. Generate Users: create %d diverse synthetic researchers with expertise in these domains.\n", InitialUsers)
	fmt.Fprintf(&b, "3. Simulate Timeline (%d events):\n", EventsPerCall)
	b.WriteString("   a. Events 1-3 are a kick-off planning meeting where researchers propose projects and form 2-3 collaborative groups. Their commits are meeting minutes or project proposals.\n")
	fmt.Fprintf(&b, "   b. Events 4-%d show the groups executing their projects, building on each other. Every event includes a repository commit.\n", EventsPerCall)
	b.WriteString("4. Final Report: summarize the research journey, the findings of each group and future directions.\n\n")
	b.WriteString("The entire output must be a single, valid JSON object matching the provided schema.")
	return b.String()
}

func continuationPrompt(prev *domain.SimulationResult) string {
	names := make([]string, 0, len(prev.GeneratedUsers))
	for _, u := range prev.GeneratedUsers {
		names = append(names, u.Name)
	}
	lastHour, lastSummary := 0, ""
	if n := len(prev.SimulationTimeline); n > 0 {
		last := prev.SimulationTimeline[n-1]
		lastHour, lastSummary = last.Timestamp, last.Summary
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Continue a research cycle for PARC, focusing on %q. This is a continuation of a previous simulation.\n\n", prev.SimulationTitle)
	b.WriteString("Established context (do NOT change these):\n")
	fmt.Fprintf(&b, "- Research Domains: %s\n", strings.Join(prev.ResearchDomains, ", "))
	fmt.Fprintf(&b, "- Researchers: %s\n\n", strings.Join(names, ", "))
	b.WriteString("Previous state summary:\n")
	fmt.Fprintf(&b, "- The last simulation ended at hour %d. The last major activities involved: %q.\n", lastHour, lastSummary)
	fmt.Fprintf(&b, "- Current knowledge graph concepts include: %s\n", graph.Summary(prev.SimulationTimeline))
	fmt.Fprintf(&b, "- Researcher repositories contain files like: %s\n\n", repository.Summary(prev.SimulationTimeline))
	fmt.Fprintf(&b, "1. Simulate the next 24 hours (%d new events). Events 1-3 are a progress review where the group decides what to prioritize next; the rest execute that plan.\n", EventsPerCall)
	b.WriteString("2. For each event, a researcher MUST make a commit to their repository.\n")
	b.WriteString("3. Write a new final report summarizing the entire research journey so far.\n\n")
	b.WriteString("The entire output must be a single, valid JSON object matching the provided schema. ")
	b.WriteString("Include the original researchDomains and generatedUsers in your response.")
	return b.String()
}

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func arrayOf(items *genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: items}
}

// ResponseSchema describes a SimulationResult for structured generation.
func ResponseSchema() *genai.Schema {
	fileTypes := make([]string, 0, len(domain.FileTypes))
	for _, t := range domain.FileTypes {
		fileTypes = append(fileTypes, string(t))
	}
	node := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"id": str(""), "label": str(""), "domain": str("")},
		Required:   []string{"id", "label", "domain"},
	}
	link := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"source": str(""), "target": str(""), "label": str("")},
		Required:   []string{"source", "target", "label"},
	}
	file := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"path":    str("File path, e.g. 'data/results.csv'"),
			"content": str("The full content of the file."),
			"type":    {Type: genai.TypeString, Enum: fileTypes},
		},
		Required: []string{"path", "content", "type"},
	}
	event := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"timestamp":       {Type: genai.TypeInteger, Description: "Hour of the simulation (0-24 initially, 25-48 for the first continuation, and so on)"},
			"summary":         str(""),
			"details":         str(""),
			"triggeredBy":     str("Name of the synthetic user responsible"),
			"affectedDomains": arrayOf(str("")),
			"graphChanges": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"newNodes": arrayOf(node),
					"newLinks": arrayOf(link),
				},
			},
			"repositoryCommit": {
				Type:        genai.TypeObject,
				Description: "A commit of files to the researcher's virtual repository.",
				Properties: map[string]*genai.Schema{
					"message": str("A descriptive commit message."),
					"files":   arrayOf(file),
				},
				Required: []string{"message", "files"},
			},
		},
		Required: []string{"timestamp", "summary", "details", "triggeredBy", "affectedDomains", "graphChanges", "repositoryCommit"},
	}
	user := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"name": str(""), "personaSummary": str("")},
		Required:   []string{"name", "personaSummary"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"simulationTitle":    str(""),
			"researchDomains":    arrayOf(str("")),
			"generatedUsers":     arrayOf(user),
			"simulationTimeline": arrayOf(event),
			"finalReport":        str("A markdown-formatted final summary report."),
		},
		Required: []string{"simulationTitle", "researchDomains", "generatedUsers", "simulationTimeline", "finalReport"},
	}
}
