package tools

import (
	"github.com/arbor-hq/arbor/internal/assistant"
)

// Strategy selects the shape of the tier-1 tool surface. Tool-selection
// accuracy degrades as the candidate set grows, so the three shapes trade
// tool count against per-tool specificity.
type Strategy string

const (
	// StrategyGranular registers one tool per fine-grained operation.
	StrategyGranular Strategy = "granular"

	// StrategyUnified registers a small consolidated set with free-form
	// query arguments.
	StrategyUnified Strategy = "unified"

	// StrategyDynamic registers a single schema-driven query tool.
	StrategyDynamic Strategy = "dynamic"
)

// Tier-2 group categories.
const (
	CategoryWorkload = "workload"
	CategoryJournal  = "journal"
	CategorySysdoc   = "sysdoc"
	CategoryDynamic  = "dynamic"
)

// NewDefaultRegistry assembles a session registry: tier-1 query tools per
// the chosen strategy, the full action set, the meta tools, and the tier-2
// group declarations.
func NewDefaultRegistry(strategy Strategy) *assistant.Registry {
	r := assistant.NewRegistry()

	var queryTools []assistant.Tool
	switch strategy {
	case StrategyUnified:
		queryTools = []assistant.Tool{
			&UnifiedQueryTool{},
			&SearchDocumentsTool{},
		}
	case StrategyDynamic:
		queryTools = []assistant.Tool{
			NewDynamicQueryTool(),
		}
	default: // StrategyGranular
		queryTools = []assistant.Tool{
			&GetProjectTool{},
			&ListProjectsTool{},
			&GetTaskTool{},
			&ListTasksTool{},
			&GetDocumentTool{},
			&SearchDocumentsTool{},
			&ListBlockersTool{},
		}
	}

	tier1 := append(queryTools,
		&CreateTaskTool{},
		&UpdateTaskTool{},
		&TransitionTaskTool{},
		&CreateProjectTool{},
		&UpdateProjectTool{},
		&CreateDocumentTool{},
		&UpdateDocumentTool{},
		&ReportBlockerTool{},
		&ResolveBlockerTool{},
		&ThinkTool{},
		&AskUserTool{},
	)
	for _, t := range tier1 {
		// Assembly is static; duplicate names are a programming error.
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}

	r.RegisterTier2(assistant.Tier2Group{
		Category: CategoryWorkload,
		Triggers: []string{"workload", "team activity", "who is working", "capacity"},
		Build: func() []assistant.Tool {
			return []assistant.Tool{&TeamWorkloadTool{}, &MemberActivityTool{}}
		},
	})
	r.RegisterTier2(assistant.Tier2Group{
		Category: CategoryJournal,
		Triggers: []string{"journal", "daily log", "diary", "standup"},
		Build: func() []assistant.Tool {
			return []assistant.Tool{&ListJournalTool{}, &AddJournalEntryTool{}}
		},
	})
	r.RegisterTier2(assistant.Tier2Group{
		Category: CategorySysdoc,
		Triggers: []string{"help", "how do i", "documentation"},
		Build: func() []assistant.Tool {
			return []assistant.Tool{&SystemDocsTool{}}
		},
	})
	r.RegisterTier2(assistant.Tier2Group{
		Category: CategoryDynamic,
		Triggers: []string{"advanced query", "custom query", "filter by"},
		Build: func() []assistant.Tool {
			return []assistant.Tool{NewDynamicQueryTool()}
		},
	})

	return r
}
