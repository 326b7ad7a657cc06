package settings

import (
	"bufio"
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/hartell/matrixci/internal"
)

var Settings *AppSettings

func NewSettings() *AppSettings {
	settings := AppSettings{
		Domain:          getEnvOrDefault("MATRIXCI_DOMAIN", "localhost"),
		Port:            getEnvOrDefault("MATRIXCI_PORT", ":8080"),
		SQLiteDatabase:  getEnvOrDefault("MATRIXCI_DB_PATH", "file:.///db.sqlite"),
		ArtifactDir:     getEnvOrDefault("MATRIXCI_ARTIFACT_DIR", internal.DefaultArtifactDir),
		CoverageSinkURL: getEnvOrDefault("MATRIXCI_COVERAGE_SINK_URL", ""),
		MatrixPath:      getEnvOrDefault("MATRIXCI_MATRIX_PATH", internal.DefaultMatrixPath),
		Repository:      getEnvOrDefault("MATRIXCI_REPOSITORY", ""),
		AgentName:       getEnvOrDefault("MATRIXCI_AGENT", ""),
		ScheduleCrontab: getEnvOrDefault("MATRIXCI_SCHEDULE_CRONTAB", ""),
		ScheduleLane:    getEnvOrDefault("MATRIXCI_SCHEDULE_LANE", "main"),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

type AppSettings struct {
	SQLiteDatabase  string
	Domain          string
	Port            string
	ArtifactDir     string
	CoverageSinkURL string
	MatrixPath      string
	Repository      string
	AgentName       string

	// optional scheduled trigger for one lane
	ScheduleCrontab string
	ScheduleLane    string

	// object store artifact backend; filesystem backend is used when
	// the endpoint is empty
	ObjectStoreEndpoint  string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreBucket    string
	ObjectStoreUseSSL    bool
}

func (as *AppSettings) BaseURL() string {
	if as.Domain == "localhost" {
		return fmt.Sprintf("http://%s%s", as.Domain, as.Port)
	} else {
		return fmt.Sprintf("https://%s", as.Domain)
	}
}

func (as *AppSettings) SQLiteDbString(readonly bool) string {
	params := make(url.Values)
	params.Add("_journal_mode", "WAL")
	params.Add("_busy_timeout", "5000")
	params.Add("_synchronous", "NORMAL")
	params.Add("_cache_size", "-20000")
	params.Add("_foreign_keys", "ON")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "IMMEDIATE")
		params.Add("mode", "rwc")
	}

	return as.SQLiteDatabase + "?" + params.Encode()
}

func (as *AppSettings) ReadObjectStoreEnv() {
	as.ObjectStoreEndpoint = getEnvOrDefault("MATRIXCI_MINIO_ENDPOINT", "")
	as.ObjectStoreAccessKey = getEnvOrDefault("MATRIXCI_MINIO_ACCESS_KEY", "")
	as.ObjectStoreSecretKey = getEnvOrDefault("MATRIXCI_MINIO_SECRET_KEY", "")
	as.ObjectStoreBucket = getEnvOrDefault("MATRIXCI_MINIO_BUCKET", "matrixci-artifacts")
	as.ObjectStoreUseSSL = getEnvOrDefault("MATRIXCI_MINIO_USE_SSL", "false") == "true"
}

func ReadDotenv(path string) {
	re := regexp.MustCompile(`^[^0-9][A-Z0-9_]+=.+$`)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Fatal("err opening dotenv: ", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] != '#' && re.Match(line) {
			split := strings.Split(string(line), "=")
			name := strings.TrimSpace(split[0])
			value := strings.TrimSpace(split[1])
			value = strings.Trim(value, `"`)
			os.Setenv(name, value)
		}
	}
}
