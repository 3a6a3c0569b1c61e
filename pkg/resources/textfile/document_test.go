package textfile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openfroyo/converge/pkg/engine"
)

const sshdConfig = `# sshd config
Port 22
#PermitRootLogin prohibit-password
PasswordAuthentication yes
passwordauthentication no
X11Forwarding   yes

Match User backup
    PasswordAuthentication yes
`

const sysctlConf = `# Uncomment the next line to enable packet forwarding for IPv4
#net.ipv4.ip_forward=1
net.ipv4.tcp_syncookies = 0
net.ipv4.tcp_syncookies=1
kernel.panic = 10
`

const jailLocal = `[DEFAULT]
bantime = 10m
; findtime = 10m

[sshd]
enabled = false
port    = ssh
logpath = /var/log/auth.log
          /var/log/secure
`

func TestParse_RoundTrip(t *testing.T) {
	tests := map[Syntax]string{
		SyntaxSSHD: sshdConfig,
		SyntaxKV:   sysctlConf,
		SyntaxINI:  jailLocal,
	}
	for syntax, content := range tests {
		t.Run(string(syntax), func(t *testing.T) {
			assert.Equal(t, content, string(parse(syntax, []byte(content)).render()))
		})
	}
}

func TestState(t *testing.T) {
	t.Run("sshd first occurrence wins and Match is excluded", func(t *testing.T) {
		state := parse(SyntaxSSHD, []byte(sshdConfig)).state()
		assert.Equal(t, engine.State{
			"port":                   "22",
			"passwordauthentication": "yes",
			"x11forwarding":          "yes",
		}, state)
	})

	t.Run("kv last occurrence wins", func(t *testing.T) {
		state := parse(SyntaxKV, []byte(sysctlConf)).state()
		assert.Equal(t, engine.State{
			"net.ipv4.tcp_syncookies": "1",
			"kernel.panic":            "10",
		}, state)
	})

	t.Run("ini keys are qualified by section", func(t *testing.T) {
		state := parse(SyntaxINI, []byte(jailLocal)).state()
		assert.Equal(t, engine.State{
			"DEFAULT.bantime": "10m",
			"sshd.enabled":    "false",
			"sshd.port":       "ssh",
			"sshd.logpath":    "/var/log/auth.log /var/log/secure",
		}, state)
	})

	t.Run("empty content", func(t *testing.T) {
		assert.Empty(t, parse(SyntaxSSHD, nil).state())
	})
}

func TestEdit_SSHD(t *testing.T) {
	doc := parse(SyntaxSSHD, []byte(sshdConfig))
	doc.set("PermitRootLogin", "no")
	doc.set("MaxAuthTries", "3")
	assert.True(t, doc.remove("PasswordAuthentication"))

	want := `# sshd config
Port 22
#PermitRootLogin prohibit-password
PermitRootLogin no
X11Forwarding   yes

MaxAuthTries 3
Match User backup
    PasswordAuthentication yes
`
	assert.Equal(t, want, string(doc.render()))
	assert.Equal(t, engine.State{
		"port":            "22",
		"permitrootlogin": "no",
		"x11forwarding":   "yes",
		"maxauthtries":    "3",
	}, doc.state())
}

func TestEdit_SSHDReplaceInPlace(t *testing.T) {
	doc := parse(SyntaxSSHD, []byte("Port 22\nX11Forwarding yes\nUsePAM yes\n"))
	doc.set("x11forwarding", "no")
	assert.Equal(t, "Port 22\nx11forwarding no\nUsePAM yes\n", string(doc.render()))
}

func TestEdit_KV(t *testing.T) {
	doc := parse(SyntaxKV, []byte(sysctlConf))
	doc.set("net.ipv4.ip_forward", "1")
	assert.True(t, doc.remove("net.ipv4.tcp_syncookies"))
	doc.set("kernel.panic", "20")
	doc.set("vm.swappiness", "10")

	want := `# Uncomment the next line to enable packet forwarding for IPv4
#net.ipv4.ip_forward=1
net.ipv4.ip_forward = 1
kernel.panic = 20
vm.swappiness = 10
`
	assert.Equal(t, want, string(doc.render()))
}

func TestEdit_INI(t *testing.T) {
	doc := parse(SyntaxINI, []byte(jailLocal))
	doc.set("sshd.enabled", "true")
	doc.set("DEFAULT.findtime", "1h")
	doc.set("sshd.maxretry", "3")
	doc.set("recidive.enabled", "true")
	assert.True(t, doc.remove("sshd.port"))

	want := `[DEFAULT]
bantime = 10m
; findtime = 10m
findtime = 1h

[sshd]
enabled = true
logpath = /var/log/auth.log
          /var/log/secure
maxretry = 3

[recidive]
enabled = true
`
	assert.Equal(t, want, string(doc.render()))
}

func TestRemove_Missing(t *testing.T) {
	doc := parse(SyntaxKV, []byte("a = 1\n"))
	assert.False(t, doc.remove("b"))
	assert.Equal(t, "a = 1\n", string(doc.render()))
}

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, "passwordauthentication", canonicalKey(SyntaxSSHD, " PasswordAuthentication "))
	assert.Equal(t, "net.ipv4.ip_forward", canonicalKey(SyntaxKV, "net.ipv4.ip_forward"))
	assert.Equal(t, "sshd.maxretry", canonicalKey(SyntaxINI, "sshd.MaxRetry"))
}

func TestSyntaxValidate(t *testing.T) {
	assert.NoError(t, SyntaxINI.Validate())
	assert.Error(t, Syntax("toml").Validate())
}

func TestDiff(t *testing.T) {
	assert.Empty(t, Diff([]byte("a\n"), []byte("a\n"), "x", "y"))

	out := Diff([]byte("Port 22\nPasswordAuthentication yes\n"), []byte("Port 22\nPasswordAuthentication no\n"), "before", "after")
	assert.Contains(t, out, "--- before\n+++ after\n")
	assert.Contains(t, out, " Port 22\n")
	assert.Contains(t, out, "-PasswordAuthentication yes\n")
	assert.Contains(t, out, "+PasswordAuthentication no\n")
}

func TestINI_IndentedCommentIsNotContinuation(t *testing.T) {
	const content = `[sshd]
enabled = true
    # enabled after the 2024 audit
logpath = /var/log/auth.log
    ; rotated weekly
          /var/log/secure
`
	doc := parse(SyntaxINI, []byte(content))
	assert.Equal(t, content, string(doc.render()))
	assert.Equal(t, engine.State{
		"sshd.enabled": "true",
		"sshd.logpath": "/var/log/auth.log /var/log/secure",
	}, doc.state())

	doc.set("sshd.enabled", "false")
	assert.True(t, doc.remove("sshd.logpath"))
	assert.Equal(t, `[sshd]
enabled = false
    # enabled after the 2024 audit
    ; rotated weekly
`, string(doc.render()))
}
