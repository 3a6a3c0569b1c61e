// Package config loads converge settings and directive sets.
//
// # Settings
//
// Settings are YAML, read from --config or $CONVERGE_CONFIG, layered over
// DefaultSettings and checked with go-playground/validator. They select the
// transport (local or ssh), the resource instances directives can address,
// the risk policy and telemetry:
//
//	state_dir: /var/lib/converge
//	transport:
//	  type: ssh
//	  host: vps.example.com
//	  user: root
//	resources:
//	  - name: firewall
//	    kind: rule
//	    access_keys: ["22/tcp", "OpenSSH"]
//	    access_critical: true
//	  - name: sshd
//	    kind: file_block
//	    path: /etc/ssh/sshd_config
//	    syntax: sshd
//	    validate_command: sshd -t -f {path}
//	    reload_command: systemctl reload ssh
//	    access_critical: true
//	  - name: crontab
//	    kind: job
//
// BuildRegistry turns the resource list into adapters bound to one host.
//
// # Directives
//
// A YAML directive set lists directives in order. Match defaults to exact
// and ensure to present:
//
//	directives:
//	  - kind: rule
//	    key: 443/tcp
//	    value: allow
//	  - kind: file_block
//	    resource: sshd
//	    key: PasswordAuthentication
//	    value: "no"
//	  - kind: job
//	    key: /usr/local/bin/backup.sh
//	    value: "0 3 * * *"
//
// A .star file builds the same set procedurally. The builtins rule(),
// file_block(), job(), present() and absent() emit directives in call order,
// and the dict "vars" carries values passed on the command line. Loops must
// live inside functions:
//
//	def web():
//	    for port in vars.get("ports", ["80", "443"]):
//	        rule(port + "/tcp")
//
//	web()
//	file_block("PermitRootLogin", "prohibit-password", resource = "sshd")
//	absent("rule", "23/tcp")
//
// Scripts run with a timeout and without print output.
//
// A .cue file is unified with the #Directive schema, so match and ensure
// take their defaults there and unknown fields are errors. Command-line
// values are reachable as vars:
//
//	directives: [
//		{kind: "rule", key: "\(vars.ssh_port)/tcp", value: "limit"},
//		{kind: "file_block", resource: "sshd", key: "Port", value: "\(vars.ssh_port)"},
//	]
package config
