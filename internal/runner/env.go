package runner

import "sort"

// envList flattens an environment map into KEY=VALUE form, sorted for
// deterministic container creation requests.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// bindList turns a hostPath -> containerPath mapping into engine bind specs.
func bindList(volumes map[string]string) []string {
	out := make([]string, 0, len(volumes))
	for host, container := range volumes {
		out = append(out, host+":"+container)
	}
	sort.Strings(out)
	return out
}
