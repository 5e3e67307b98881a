package feature

// Abstract variants every concrete feature extends.
const (
	RootVariant       = "feature"
	ConfiguredVariant = "configured"
	DynamicVariant    = "dynamic"
	TargetVariant     = "target"
)

// Builtin returns the definitions of every feature this server offers.
func Builtin() []Definition {
	return []Definition{
		{
			Name:          RootVariant,
			Notifications: []string{ErrorChannel},
		},
		{Name: ConfiguredVariant, Extends: []string{RootVariant}},
		{Name: DynamicVariant, Extends: []string{RootVariant}},
		{
			Name:    TargetVariant,
			Extends: []string{DynamicVariant},
			Requests: map[string][]Arg{
				"connect":    {Req("connection_type"), Req("params")},
				"disconnect": {},
			},
			Notifications: []string{connectionStateNfn},
		},
		{
			Name:    "core",
			Extends: []string{ConfiguredVariant},
			Requests: map[string][]Arg{
				"force_restart": {},
				"ping":          {},
				"start_feature": {Req("feature"), Req(KeyChannel), Req(KeyTarget), Whole},
				"stop_feature":  {Req("feature"), Req(KeyChannel), Req(KeyTarget)},
			},
			Notifications: []string{"pong", websocketUpNfn},
			NewConfigured: NewCore,
			NewOptions:    func() any { return &CoreOptions{} },
		},
		{
			Name:    "persist",
			Extends: []string{ConfiguredVariant},
			Requests: map[string][]Arg{
				"persist_save_async": {Req(KeyUserID), Req(KeyChannel), Req("data")},
				"persist_save_sync":  {Req(KeyUserID), Req(KeyChannel), Req("data")},
				"persist_load":       {Req(KeyUserID), Req(KeyChannel), Opt("default")},
			},
			NewConfigured: NewPersist,
			NewOptions:    func() any { return &PersistOptions{} },
		},
		{
			Name:       "target_group",
			Extends:    []string{TargetVariant},
			NewDynamic: NewTargetGroup,
		},
		{
			Name:       "cli_exec",
			Extends:    []string{TargetVariant},
			Requests:   map[string][]Arg{"cli_exec": {Req("command")}},
			NewDynamic: NewCLIExec,
		},
		{
			Name:    "cli_config",
			Extends: []string{TargetVariant},
			Requests: map[string][]Arg{
				"cli_config_load":            {Req("config")},
				"cli_config_commit":          {Opt("check_only")},
				"cli_config_get_failures":    {},
				"cli_config_get_unsupported": {},
			},
			NewDynamic: NewCLIConfig,
		},
		{
			Name:       "netconf",
			Extends:    []string{TargetVariant},
			Requests:   map[string][]Arg{"netconf": {Req("op"), Whole}},
			NewDynamic: NewNETCONF,
		},
		{
			Name:          "syslog",
			Extends:       []string{TargetVariant},
			Notifications: []string{syslogNfn},
			NewDynamic:    NewSyslog,
		},
	}
}

// NewBuiltinRegistry registers and builds the built-in features.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, def := range Builtin() {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	if err := r.Build(); err != nil {
		return nil, err
	}
	return r, nil
}
