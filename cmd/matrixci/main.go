package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"syscall"

	"github.com/hartell/matrixci/internal"
	"github.com/hartell/matrixci/internal/security"
	"github.com/hartell/matrixci/internal/service"
	"github.com/hartell/matrixci/internal/settings"
	"github.com/hartell/matrixci/internal/store"

	"golang.org/x/term"

	_ "modernc.org/sqlite"
)

const usage = `usage: matrixci <command> [flags]

commands:
  create-agent    register an agent machine
  list-agents     list registered agents
  list-runs       list every run, newest first
  create-api-key  mint a trigger api key
  delete-api-key  delete a trigger api key
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	settings.ReadDotenv(internal.DotEnvPath)
	settings.Settings = settings.NewSettings()
	hashKey := security.HashKey()

	rdb := store.InitDatabase(true)
	defer rdb.Close()
	rwdb := store.InitDatabase(false)
	defer rwdb.Close()
	store.RunMigrations(rwdb, internal.MigrationsDir)

	agentSvc := service.NewAgentService(
		store.NewAgentSQLiteStore(rdb, rwdb),
		security.NewAESEncrypter(hashKey),
		settings.Settings.Repository,
		settings.Settings.AgentName,
	)
	apiKeySvc := service.NewAPIKeyService(
		store.NewAPIKeySQLiteStore(rdb, rwdb),
		service.NewUUIDGen(),
	)

	switch os.Args[1] {
	case "create-agent":
		createAgent(agentSvc, os.Args[2:])
	case "list-agents":
		listAgents(agentSvc)
	case "list-runs":
		listRuns(store.NewRunSQLiteStore(rdb, rwdb))
	case "create-api-key":
		createAPIKey(apiKeySvc)
	case "delete-api-key":
		deleteAPIKey(apiKeySvc, os.Args[2:])
	default:
		fmt.Print(usage)
		os.Exit(1)
	}
}

func createAgent(agentSvc service.AgentServicer, args []string) {
	fs := flag.NewFlagSet("create-agent", flag.ExitOnError)
	name := fs.String("name", "", "agent name")
	hostname := fs.String("hostname", "", "agent hostname or address")
	workspace := fs.String("workspace", "", "workspace directory on the agent")
	username := fs.String("username", "", "ssh username")
	description := fs.String("description", "", "agent description")
	keyFile := fs.String("key-file", "", "path to the ssh private key")
	fs.Parse(args)

	if *name == "" || *hostname == "" || *workspace == "" || *username == "" {
		log.Fatal("name, hostname, workspace and username are required")
	}

	privateKey := readPrivateKey(*keyFile)
	agent, err := agentSvc.CreateAgent(
		context.Background(),
		*name, *hostname, *workspace, *username, *description, privateKey,
	)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("created agent %d (%s)\n", agent.AgentID, agent.Name)

	if err := agentSvc.TestAgentConnection(context.Background(), agent.AgentID); err != nil {
		fmt.Printf("warning: connection test failed: %v\n", err)
		return
	}
	fmt.Println("connection test ok")
}

func readPrivateKey(keyFile string) string {
	if keyFile != "" {
		b, err := os.ReadFile(keyFile)
		if err != nil {
			log.Fatal(err)
		}
		return string(b)
	}

	fmt.Print("SSH private key (input hidden): ")
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		log.Fatal(err)
	}
	return string(b)
}

func listAgents(agentSvc service.AgentServicer) {
	agents, err := agentSvc.ListAgents(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	for _, a := range agents {
		fmt.Printf("%d\t%s\t%s@%s\t%s\n", a.AgentID, a.Name, a.Username, a.Hostname, a.Workspace)
	}
}

func listRuns(runStore store.RunStore) {
	runs, err := runStore.ListRuns(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range runs {
		fmt.Printf(
			"%d\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Lane, r.TriggerKind, r.Status,
			r.CreatedOn.Format(internal.DBTimestampLayout),
		)
	}
}

func createAPIKey(apiKeySvc service.APIKeyServicer) {
	ak, err := apiKeySvc.CreateAPIKey(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("created api key %d: %s\n", ak.ID, ak.Value)
}

func deleteAPIKey(apiKeySvc service.APIKeyServicer, args []string) {
	fs := flag.NewFlagSet("delete-api-key", flag.ExitOnError)
	id := fs.Int64("id", 0, "api key id")
	fs.Parse(args)
	if *id == 0 {
		log.Fatal("id is required")
	}

	if err := apiKeySvc.DeleteAPIKey(context.Background(), *id); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("deleted api key %d\n", *id)
}
