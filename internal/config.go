package internal

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/hartell/matrixci/internal/util"
)

var Config *Configuration

type MinutesDuration time.Duration

func NewMinutesDuration(minutes int64) MinutesDuration {
	return MinutesDuration(time.Duration(minutes) * time.Minute)
}

func (md MinutesDuration) MarshalJSON() ([]byte, error) {
	minutes := float64(time.Duration(md)) / float64(time.Minute)
	return json.Marshal(minutes)
}

func (md *MinutesDuration) UnmarshalJSON(data []byte) error {
	var minutes float64
	if err := json.Unmarshal(data, &minutes); err != nil {
		return err
	}
	*md = MinutesDuration(minutes * float64(time.Minute))
	return nil
}

type Configuration struct {
	MaxParallelJobs   int64           `json:"max_parallel_jobs"`
	DefaultJobTimeout MinutesDuration `json:"default_job_timeout_minutes"`
	BuildTimeout      MinutesDuration `json:"build_timeout_minutes"`
}

func InitializeConfiguration() {
	Config = &Configuration{
		MaxParallelJobs:   8,
		DefaultJobTimeout: NewMinutesDuration(30),
		BuildTimeout:      NewMinutesDuration(60),
	}

	configFileExists, _ := util.PathExists("config.json")
	if !configFileExists {
		b, err := json.MarshalIndent(Config, "", "    ")
		if err != nil {
			log.Fatal(err)
		}
		configFile, err := os.Create("config.json")
		if err != nil {
			log.Fatal(err)
		}
		if _, err := configFile.Write(b); err != nil {
			log.Fatal(err)
		}
	} else {
		configBytes, err := os.ReadFile("config.json")
		if err != nil {
			log.Fatal(err)
		}
		if err := json.Unmarshal(configBytes, &Config); err != nil {
			log.Fatal(err)
		}
	}
}

func UpdateConfiguration(config *Configuration) error {
	b, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return err
	}

	configFile, err := os.Create("config.json")
	if err != nil {
		return err
	}

	if _, err := configFile.Write(b); err != nil {
		return err
	}

	Config = config

	return nil
}
