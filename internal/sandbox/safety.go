package sandbox

import "strings"

// dangerousPatterns maps command substrings to human-readable warnings.
var dangerousPatterns = []struct {
	pattern string
	warning string
}{
	{"rm -rf /", "Attempts to delete root filesystem"},
	{"rm -rf ~", "Attempts to delete home directory"},
	{":(){:|:&};:", "Fork bomb detected"},
	{"dd if=/dev/zero", "Disk overwrite detected"},
	{"mkfs.", "Filesystem format detected"},
	{"> /dev/sda", "Direct disk write detected"},
	{"chmod 777 /", "Dangerous permission change"},
	{"curl | sh", "Piped remote code execution"},
	{"wget | sh", "Piped remote code execution"},
	{"eval $(", "Dynamic code execution"},
}

// CheckCommandSafe performs a static scan of a shell command for known
// dangerous patterns. It is advisory only and never blocks execution;
// callers decide whether to act on the warnings.
func CheckCommandSafe(command string) (bool, []string) {
	var warnings []string
	lower := strings.ToLower(command)

	for _, p := range dangerousPatterns {
		if strings.Contains(lower, strings.ToLower(p.pattern)) {
			warnings = append(warnings, p.warning)
		}
	}

	if strings.Contains(command, "sudo ") || strings.HasPrefix(command, "su ") {
		warnings = append(warnings, "Privilege escalation attempt")
	}

	return len(warnings) == 0, warnings
}
