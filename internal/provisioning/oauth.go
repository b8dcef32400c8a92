package provisioning

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const imsContextPrefix = "AIO_ims_contexts_"

var oauthKeyMap = map[string]string{
	"client__id":                "OAUTH_CLIENT_ID",
	"client__secrets":           "OAUTH_CLIENT_SECRETS",
	"technical__account__email": "OAUTH_TECHNICAL_ACCOUNT_EMAIL",
	"technical__account__id":    "OAUTH_TECHNICAL_ACCOUNT_ID",
	"scopes":                    "OAUTH_SCOPES",
	"ims__org__id":              "OAUTH_IMS_ORG_ID",
}

// SyncResult lists the OAUTH_* keys written and the context keys without a mapping.
type SyncResult struct {
	Updated  []string
	Unmapped []string
}

// SyncOAuthCredentials copies AIO_ims_contexts_{credential}_{key} values in the dotenv file at
// path into the matching OAUTH_* keys, editing the file in place.
func SyncOAuthCredentials(path string, logger *zap.Logger) (SyncResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return SyncResult{}, fmt.Errorf("provisioning: read %s: %w", path, err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return SyncResult{}, fmt.Errorf("provisioning: read %s: %w", path, err)
	}
	content := string(raw)

	keys := make([]string, 0, len(values))
	for key := range values {
		if strings.HasPrefix(key, imsContextPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		logger.Warn("No AIO_ims_contexts_* environment variables found in .env file")
		return SyncResult{}, nil
	}

	var result SyncResult
	for _, key := range keys {
		credential, field := parseIMSContextKey(key)
		oauthKey, ok := oauthKeyMap[field]
		if !ok {
			logger.Warn("No mapping found for key: " + field)
			result.Unmapped = append(result.Unmapped, field)
			continue
		}
		value := values[key]
		current, present := values[oauthKey]
		if present && current == value {
			continue
		}
		content = replaceEnvVar(content, oauthKey, value)
		values[oauthKey] = value
		result.Updated = append(result.Updated, oauthKey)
		logger.Info(fmt.Sprintf("Synced %s with value from %s%s_%s", oauthKey, imsContextPrefix, credential, field))
	}

	if len(result.Updated) > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return SyncResult{}, err
		}
		if err := os.WriteFile(path, []byte(content), info.Mode().Perm()); err != nil {
			return SyncResult{}, fmt.Errorf("provisioning: write %s: %w", path, err)
		}
	}
	return result, nil
}

func parseIMSContextKey(key string) (credential, field string) {
	parts := splitBySingle(strings.TrimPrefix(key, imsContextPrefix), '_')
	credential = parts[0]
	if len(parts) > 1 {
		field = parts[1]
	}
	return credential, field
}

// splitBySingle splits s on sep only where sep is not adjacent to another sep, so "a_b__c"
// yields ["a", "b__c"].
func splitBySingle(s string, sep byte) []string {
	var parts []string
	var current strings.Builder
	for i := 0; i < len(s); i++ {
		single := s[i] == sep &&
			(i == 0 || s[i-1] != sep) &&
			(i == len(s)-1 || s[i+1] != sep)
		if single {
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		current.WriteByte(s[i])
	}
	return append(parts, current.String())
}

func replaceEnvVar(content, key, value string) string {
	line := key + "=" + quoteEnvValue(value)
	pattern := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(key) + `=.*$`)
	if pattern.MatchString(content) {
		return pattern.ReplaceAllLiteralString(content, line)
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + line + "\n"
}

func quoteEnvValue(value string) string {
	if strings.ContainsAny(value, " #\"'\n\t") || strings.HasPrefix(value, "[") {
		return "'" + strings.ReplaceAll(value, "'", `\'`) + "'"
	}
	return value
}
