package pattern

import (
	"fmt"
	"regexp"

	"github.com/the-radar/deliberate/internal/risk"
)

// Rule is a single ordered classification rule. Rule order is semantically
// significant: the first match wins, so catastrophic, irreversible patterns
// must precede their more general supersets.
type Rule struct {
	// Expr is the regex source, compiled case-insensitively.
	Expr string
	// Compiled is the compiled regex.
	Compiled *regexp.Regexp
	// Risk is the level assigned when this rule matches.
	Risk risk.Level
	// Reason explains why the pattern is risky.
	Reason string
	// CanOverride reports whether a human may approve the command anyway.
	CanOverride bool
	// Source indicates where this rule came from ("builtin", "config").
	Source string
}

func compileRules(level risk.Level, source string, specs []ruleSpec) []Rule {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		compiled, err := regexp.Compile("(?i)" + s.expr)
		if err != nil {
			// Built-in rules must always be valid.
			if source == "builtin" {
				panic(fmt.Sprintf("invalid builtin rule %q: %v", s.expr, err))
			}
			continue
		}
		rules = append(rules, Rule{
			Expr:        s.expr,
			Compiled:    compiled,
			Risk:        level,
			Reason:      s.reason,
			CanOverride: s.override,
			Source:      source,
		})
	}
	return rules
}

func compileOne(expr string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + expr)
}

type ruleSpec struct {
	expr     string
	reason   string
	override bool
}

// Catastrophic command rules. Non-overridable: no human confirmation can
// approve these. Listed before the general dangerous rules so that
// "rm -rf /" never falls through to the overridable generic recursive
// delete rule.
var builtinCatastrophic = []ruleSpec{
	{`^(sudo\s+)?rm\s+(-[a-z]*[rf][a-z]*\s+)+(/|/\*)(\s|$)`,
		"recursive delete of the root filesystem", false},
	{`^(sudo\s+)?rm\s+(-[a-z]*[rf][a-z]*\s+)+(~|\$HOME|/home/\w+)/?(\s|$)`,
		"recursive delete of an entire home directory", false},
	{`^(sudo\s+)?rm\s+(-[a-z]*[rf][a-z]*\s+)+/(boot|dev|etc|lib|lib64|proc|root|sbin|sys|usr|var)\b`,
		"recursive delete of a system directory", false},
	{`\bdd\b.*\bof=/dev/(sd|hd|nvme|vd|xvd)`,
		"raw write to a block device destroys its contents", false},
	{`^(sudo\s+)?mkfs(\.\w+)?\s`,
		"formatting a filesystem destroys its contents", false},
	{`:\(\)\s*\{\s*:\|:&\s*\}\s*;?\s*:`,
		"fork bomb", false},
	{`>\s*/dev/(sd|hd|nvme|vd|xvd)`,
		"redirect onto a block device destroys its contents", false},
	{`\bDROP\s+DATABASE\b`,
		"destroys an entire database", false},
}

// Dangerous command rules. Overridable: a human at the terminal may approve.
var builtinDangerous = []ruleSpec{
	{`^(sudo\s+)?rm\s+(-[a-z]*[rf][a-z]*\s*)+`,
		"recursive or forced delete", true},
	{`^git\s+push\s+.*(--force\b|-f\b)`,
		"force push rewrites remote history", true},
	{`^git\s+reset\s+--hard`,
		"hard reset discards uncommitted changes", true},
	{`^git\s+clean\s+-[a-z]*f`,
		"removes untracked files permanently", true},
	{`^git\s+stash\s+drop`,
		"permanently deletes stashed changes", true},
	{`\bcurl\b.*\|\s*(sudo\s+)?(ba)?sh\b`,
		"pipes remote content directly into a shell", true},
	{`\bwget\b.*\|\s*(sudo\s+)?(ba)?sh\b`,
		"pipes remote content directly into a shell", true},
	{`^(sudo\s+)?chmod\s+(-R\s+)?777\b`,
		"world-writable permissions", true},
	{`^(sudo\s+)?ch(mod|own)\s+-R\b`,
		"recursive permission or ownership change", true},
	{`\bDROP\s+(TABLE|SCHEMA)\b`,
		"drops a database object", true},
	{`\bTRUNCATE\s+TABLE\b`,
		"removes all rows from a table", true},
	{`\bDELETE\s+FROM\s+[\w."` + "`" + `\[\]]+\s*(;|$)`,
		"unscoped SQL delete", true},
	{`^kubectl\s+delete\s+(node|nodes|namespace|namespaces|pv|pvc)\b`,
		"deletes cluster-level Kubernetes resources", true},
	{`^kubectl\s+delete\b`,
		"deletes Kubernetes resources", true},
	{`^terraform\s+destroy\b`,
		"destroys managed infrastructure", true},
	{`^docker\s+system\s+prune\b`,
		"removes docker images, containers, and volumes", true},
	{`^docker\s+(rm|rmi)\b`,
		"removes docker containers or images", true},
	{`^aws\s+s3\s+(rm|rb)\b`,
		"deletes S3 objects or buckets", true},
	{`^aws\s+ec2\s+terminate-instances\b`,
		"terminates EC2 instances", true},
	{`^gcloud\b.*\bdelete\b`,
		"deletes cloud resources", true},
	{`^(sudo\s+)?(fdisk|parted)\b`,
		"partition table manipulation", true},
	{`^(sudo\s+)?systemctl\s+(stop|disable|mask)\b`,
		"stops or disables a system service", true},
	{`^(sudo\s+)?(kill\s+-9|killall|pkill)\b`,
		"force-kills processes", true},
	{`^(sudo\s+)?shutdown\b|^(sudo\s+)?reboot\b|^(sudo\s+)?halt\b`,
		"shuts down or reboots the machine", true},
}

// Moderate command rules: attention-worthy but routine.
var builtinModerate = []ruleSpec{
	{`^(sudo\s+)?rm\s+[^-]`,
		"deletes files", true},
	{`^git\s+branch\s+-[dD]\b`,
		"deletes a git branch", true},
	{`^git\s+rebase\b`,
		"rewrites local history", true},
	{`^(npm|pip|pip3|cargo|gem)\s+uninstall\b`,
		"removes an installed package", true},
	{`^(npm|pnpm|yarn)\s+publish\b`,
		"publishes a package to a registry", true},
	{`^(sudo\s+)?mv\s+.*\s+/(etc|usr|var|boot)\b`,
		"moves files into a system directory", true},
	{`^crontab\b`,
		"modifies scheduled jobs", true},
}

// Safe command rules: read-only queries and version checks. A match here is
// authoritative and skips every other layer. CanOverride is false because a
// safe verdict carries nothing to override.
var builtinSafe = []ruleSpec{
	{`^(ls|ll|la|dir|tree)(\s|$)`, "directory listing", false},
	{`^(pwd|whoami|hostname|date|uptime|uname|id)(\s|$)`, "state query", false},
	{`^(which|whereis|type)(\s|$)`, "binary location query", false},
	{`^(cat|head|tail|wc|file|stat)\s`, "file read", false},
	{`^git\s+(status|log|diff|branch|show|blame|shortlog|tag|remote)(\s|$)`,
		"git read operation", false},
	{`^git\s+stash\s+list(\s|$)`, "git read operation", false},
	{`^(grep|rg|find|fd)\s`, "search", false},
	{`^(echo|printf)\s[^>|;&]*$`, "prints text", false},
	{`^\w[\w.-]*\s+(--version|-V|version)(\s|$)`, "version check", false},
	{`^(ps|pgrep|top|htop|free|df|du)(\s|$)`, "process or disk query", false},
	{`^(npm|pip|pip3)\s+(list|show|outdated)(\s|$)`, "package query", false},
	{`^kubectl\s+(get|describe|logs)\s`, "kubernetes read operation", false},
	{`^docker\s+(ps|images|logs|inspect)(\s|$)`, "docker read operation", false},
}

// Path rules, applied to file paths rather than commands. Writes to these
// locations are flagged regardless of the command used.
var builtinPathCatastrophic = []ruleSpec{
	{`^/etc/(passwd|shadow|sudoers)`, "system authentication database", false},
	{`^/boot/`, "boot partition", false},
	{`(^|/)\.ssh/authorized_keys$`, "SSH trust anchor", false},
}

var builtinPathDangerous = []ruleSpec{
	{`^/etc/`, "system configuration", true},
	{`(^|/)\.ssh/`, "SSH credentials", true},
	{`(^|/)\.aws/credentials`, "cloud credentials", true},
	{`(^|/)\.(bashrc|bash_profile|zshrc|profile)$`, "shell startup file", true},
	{`(^|/)\.git/(config|hooks)`, "git repository internals", true},
	{`(^|/)\.env(\.|$)`, "environment secrets file", true},
	{`^/usr/(bin|sbin|lib)/`, "system binaries", true},
	{`(^|/)crontab`, "scheduled jobs", true},
}

// Content rules, applied to script bodies and inline heredoc/echo payloads.
var builtinContentCatastrophic = []ruleSpec{
	{`rm\s+(-[a-z]*[rf][a-z]*\s+)+(/|\$HOME|~)(\s|$|/\*)`,
		"script deletes the root or home directory", false},
	{`\bdd\b.*\bof=/dev/(sd|hd|nvme|vd|xvd)`,
		"script writes raw data to a block device", false},
	{`:\(\)\s*\{\s*:\|:&\s*\}\s*;?\s*:`,
		"script contains a fork bomb", false},
}

var builtinContentDangerous = []ruleSpec{
	{`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba)?sh\b`,
		"script pipes remote content into a shell", true},
	{`\b(nc|ncat|netcat)\b.*\s-e\s`,
		"script spawns a reverse shell", true},
	{`\bbase64\s+(-d|--decode)\b.*\|\s*(ba)?sh\b`,
		"script decodes and executes hidden payload", true},
	{`\beval\s+["'$]`,
		"script evaluates dynamic code", true},
	{`\bchmod\s+[0-7]*7[0-7]*\s+`,
		"script loosens file permissions", true},
	{`(/etc/passwd|/etc/shadow|\.ssh/id_[a-z0-9]+)`,
		"script touches credentials or authentication files", true},
	{`\b(curl|wget)\b.*(-d\s|--data|-F\s|--form|--upload-file)`,
		"script uploads data to a remote host", true},
	{`\bhistory\s+-c\b|\bunset\s+HISTFILE\b`,
		"script hides its tracks", true},
}
