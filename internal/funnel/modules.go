package funnel

// ModuleID identifies one stage of the guided-demo conversation funnel.
type ModuleID string

const (
	ModuleIntro           ModuleID = "intro"
	ModuleQualification   ModuleID = "qualification"
	ModuleOverview        ModuleID = "overview"
	ModuleFeatureDeepDive ModuleID = "feature_deep_dive"
	ModulePricing         ModuleID = "pricing"
	ModuleCTA             ModuleID = "cta"
)

// ModuleDefinition describes one stage of the funnel: its position and the
// objectives the conversational agent must complete before the funnel moves on.
type ModuleDefinition struct {
	ID         ModuleID
	OrderIndex int
	Objectives []string
}

// Modules is the static, ordered funnel definition. It is compiled into the
// service; runtime state only ever references it by id.
var Modules = []ModuleDefinition{
	{
		ID:         ModuleIntro,
		OrderIndex: 0,
		Objectives: []string{"greet_prospect", "capture_name"},
	},
	{
		ID:         ModuleQualification,
		OrderIndex: 1,
		Objectives: []string{"identify_role", "identify_pain_points"},
	},
	{
		ID:         ModuleOverview,
		OrderIndex: 2,
		Objectives: []string{"present_platform_overview"},
	},
	{
		ID:         ModuleFeatureDeepDive,
		OrderIndex: 3,
		Objectives: []string{"demo_core_features", "answer_feature_questions"},
	},
	{
		ID:         ModulePricing,
		OrderIndex: 4,
		Objectives: []string{"present_pricing"},
	},
	{
		ID:         ModuleCTA,
		OrderIndex: 5,
		Objectives: []string{"offer_trial"},
	},
}

var (
	modulesByID       map[ModuleID]*ModuleDefinition
	moduleByObjective map[string]*ModuleDefinition
)

// The reverse index is built once at startup, not recomputed per request.
func init() {
	modulesByID = make(map[ModuleID]*ModuleDefinition, len(Modules))
	moduleByObjective = make(map[string]*ModuleDefinition)
	for i := range Modules {
		m := &Modules[i]
		modulesByID[m.ID] = m
		for _, obj := range m.Objectives {
			moduleByObjective[obj] = m
		}
	}
}

// ModuleByID returns the static definition for id, or nil if id is unknown.
func ModuleByID(id ModuleID) *ModuleDefinition {
	return modulesByID[id]
}

// ModuleForObjective returns the module that owns the named objective, or nil
// if no module claims it.
func ModuleForObjective(objective string) *ModuleDefinition {
	return moduleByObjective[objective]
}

// NextModule returns the module following m in funnel order, or nil when m is
// the last module.
func NextModule(m *ModuleDefinition) *ModuleDefinition {
	for i := range Modules {
		if Modules[i].OrderIndex == m.OrderIndex+1 {
			return &Modules[i]
		}
	}
	return nil
}
