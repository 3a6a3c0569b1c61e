package policy

// RiskQuery is the query evaluated for every action.
const RiskQuery = "data.converge.risk.reasons"

// GetBuiltinPolicies returns the policies loaded into every engine.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		accessPathPolicy(),
	}
}

// accessPathPolicy flags changes that can cut the operator off from the host.
func accessPathPolicy() Policy {
	return Policy{
		Name:        "access-path",
		Description: "Changes that can lock the operator out of the host need confirmation",
		Builtin:     true,
		Rego: `package converge.risk

import rego.v1

destructive := {"replace", "remove"}

login_keys := {
	"allowgroups",
	"allowusers",
	"authenticationmethods",
	"listenaddress",
	"passwordauthentication",
	"permitrootlogin",
	"port",
	"pubkeyauthentication",
}

default risky := false

risky if count(reasons) > 0

# Overwriting or dropping state on an access-critical resource.
reasons contains msg if {
	input.resource.access_critical
	input.action.kind in destructive
	msg := sprintf("%s of '%s' on access-critical resource %s/%s", [input.action.kind, input.action.key, input.resource.kind, input.resource.name])
}

# An allow rule turned into anything else.
reasons contains msg if {
	input.resource.kind == "rule"
	input.action.kind == "replace"
	input.action.current == "allow"
	msg := sprintf("rule '%s' would stop allowing traffic", [input.action.key])
}

# Any edit of an sshd login setting.
reasons contains msg if {
	input.resource.kind == "file_block"
	endswith(input.resource.location, "sshd_config")
	input.action.kind in {"add", "replace", "remove"}
	lower(input.action.key) in login_keys
	msg := sprintf("'%s' controls SSH login", [input.action.key])
}
`,
	}
}
