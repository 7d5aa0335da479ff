package targets

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lox/loadscale/internal/errors"
	"github.com/lox/loadscale/internal/models"
)

type groupsFile struct {
	Groups map[string][]string `yaml:"groups"`
}

// LoadGroups reads named subsector groups from a YAML file of the form
//
//	groups:
//	  data_centers: [data center cooling, data center IT]
//
// A targets row whose subsector_group matches a name uses that member list.
func LoadGroups(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Newf(errors.ErrMissingScalingInputs, "groups file does not exist").WithPath(path)
		}
		return nil, fmt.Errorf("read groups file: %w", err)
	}

	var gf groupsFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return nil, errors.Newf(errors.ErrInvalidTarget, "parse groups file: %v", err).WithPath(path)
	}

	aliases := make(map[string][]string, len(gf.Groups))
	for name, members := range gf.Groups {
		name = strings.TrimSpace(name)
		clean := dedupe(members)
		if name == "" || len(clean) == 0 {
			return nil, errors.Newf(errors.ErrInvalidTarget, "group has no name or no members").WithGroup(name).WithPath(path)
		}
		aliases[name] = clean
	}
	return aliases, nil
}

// ResolveGroup returns the members of a subsector group. Names defined in
// aliases win; otherwise the name is a comma-separated member list.
func ResolveGroup(name string, aliases map[string][]string) models.SubsectorGroup {
	name = strings.TrimSpace(name)
	if members, ok := aliases[name]; ok {
		return models.SubsectorGroup{Name: name, Members: members}
	}
	return models.SubsectorGroup{Name: name, Members: dedupe(strings.Split(name, ","))}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, m := range in {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
