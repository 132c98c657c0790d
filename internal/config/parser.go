package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"qsnet-switch/internal/logging"
	"qsnet-switch/internal/qswerr"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*Config, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*Config, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", errors.Mark(err, qswerr.ErrConfig)
	}

	originalContent := string(data)
	config, err := ParseConfig(originalContent)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to load config file")
		return nil, "", err
	}
	return config, originalContent, nil
}

// ParseConfig expands ${VAR} references in content, decodes it, fills in
// defaults and validates the result.
func ParseConfig(content string) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(content)), &config); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "parse config"), qswerr.ErrConfig)
	}
	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid config"), qswerr.ErrConfig)
	}
	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// ParseNodeSpec parses node id lists like "4", "4,6" or "0-3,8". Ids keep
// their order of first appearance.
func ParseNodeSpec(spec string) ([]int, error) {
	var ids []int
	seen := make(map[int]bool)

	parts := strings.Split(spec, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid node range: %s", part)
			}

			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil || start < 0 {
				return nil, fmt.Errorf("invalid node range start: %s", rangeParts[0])
			}

			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid node range end: %s", rangeParts[1])
			}

			if start > end {
				return nil, fmt.Errorf("invalid node range: start > end (%d > %d)", start, end)
			}

			for i := start; i <= end; i++ {
				if !seen[i] {
					ids = append(ids, i)
					seen[i] = true
				}
			}
		} else {
			id, err := strconv.Atoi(part)
			if err != nil || id < 0 {
				return nil, fmt.Errorf("invalid node id: %s", part)
			}

			if !seen[id] {
				ids = append(ids, id)
				seen[id] = true
			}
		}
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("no nodes specified")
	}

	return ids, nil
}

// FormatNodeSpec renders ids in the canonical sorted range form, e.g. "0-3,8".
func FormatNodeSpec(ids []int) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)

	var b strings.Builder
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == prev {
			b.WriteString(strconv.Itoa(start))
		} else {
			fmt.Fprintf(&b, "%d-%d", start, prev)
		}
	}
	for _, id := range sorted[1:] {
		if id == prev || id == prev+1 {
			prev = id
			continue
		}
		flush()
		start, prev = id, id
	}
	flush()
	return b.String()
}

func validateConfig(config *Config) error {
	s := &config.QSwitch

	if err := config.Ranges().Validate(); err != nil {
		return err
	}
	if s.Allocator.ContextMax > MaxHardwareContext {
		return fmt.Errorf("context_max %#x exceeds hardware limit %#x", s.Allocator.ContextMax, MaxHardwareContext)
	}

	if s.Layout != LayoutBlock && s.Layout != LayoutCyclic {
		return fmt.Errorf("layout must be %q or %q, got %q", LayoutBlock, LayoutCyclic, s.Layout)
	}

	ids := make(map[uint32]string, len(s.Nodes.Hosts))
	for host, id := range s.Nodes.Hosts {
		if host == "" {
			return fmt.Errorf("nodes: empty host name")
		}
		if other, dup := ids[id]; dup {
			return fmt.Errorf("nodes: id %d assigned to both %s and %s", id, other, host)
		}
		ids[id] = host
	}

	// Validate database config
	if db := s.Data.DB; db != nil {
		if db.Host == "" || db.Name == "" || db.Org == "" {
			return fmt.Errorf("incomplete database configuration")
		}
	}

	return nil
}
