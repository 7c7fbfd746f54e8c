package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandboxfs/sandboxfs/pkg/auxops"
	"github.com/sandboxfs/sandboxfs/pkg/batch"
	"github.com/sandboxfs/sandboxfs/pkg/logging"
	"github.com/sandboxfs/sandboxfs/pkg/service"
)

// request is the newline-delimited JSON request shape read from standard
// input: a minimal, concrete stand-in for the transport framing the
// specification declares an external collaborator.
type request struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agentId"`
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params"`
}

// response is the newline-delimited JSON response shape written to
// standard output.
type response struct {
	ID     string      `json:"id"`
	Ok     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

var serveConfiguration struct {
	config string
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Run the sandboxed filesystem service over a newline-delimited JSON request/response loop",
	RunE:  serveMain,
}

func init() {
	flags := serveCommand.Flags()
	flags.StringVarP(&serveConfiguration.config, "config", "c", "", "Path to the JSON configuration document")
	serveCommand.MarkFlagRequired("config")
}

func serveMain(_ *cobra.Command, _ []string) error {
	fileConfig, err := service.LoadConfig(serveConfiguration.config)
	if err != nil {
		return err
	}

	policy, err := service.BuildPolicyConfig(fileConfig)
	if err != nil {
		return err
	}

	logging.RootLogger.SetLevel(service.ResolveLogLevel(fileConfig))

	auditLogger := logging.NewAuditLogger(os.Stderr, policy.AuditEnabled)
	svc := service.New(policy, auditLogger, logging.RootLogger, nil)
	defer svc.StopAllWatches()

	return runLoop(svc, os.Stdin, os.Stdout)
}

func runLoop(svc *service.Service, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	encoder := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			encoder.Encode(response{Ok: false, Error: "malformed request: " + err.Error()})
			continue
		}

		resp := dispatch(svc, req)
		if err := encoder.Encode(resp); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// dispatch routes a single request to the matching Service method. It is
// deliberately a plain switch rather than a registry, since the operation
// set is closed and fixed by the specification.
func dispatch(svc *service.Service, req request) response {
	switch req.Operation {
	case "batch_operations":
		var params struct {
			Ops    []batch.Op `json:"ops"`
			Atomic bool       `json:"atomic"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		results, err := svc.BatchOperations(req.AgentID, params.Ops, params.Atomic)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, results)

	case "watch_directory":
		var params struct {
			Path      string   `json:"path"`
			Recursive bool     `json:"recursive"`
			Filters   []string `json:"filters"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		sessionID, err := svc.WatchDirectory(req.AgentID, params.Path, params.Recursive, params.Filters)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, map[string]string{"sessionId": sessionID})

	case "get_watch_events":
		var params struct {
			SessionID string `json:"sessionId"`
			Clear     bool   `json:"clear"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		events, err := svc.GetWatchEvents(params.SessionID, params.Clear)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, events)

	case "stop_watch":
		var params struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		if err := svc.StopWatch(params.SessionID); err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "search_files":
		var params struct {
			Path  string `json:"path"`
			Query string `json:"query"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		matches, err := svc.SearchFiles(req.AgentID, params.Path, params.Query)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, matches)

	case "build_index":
		var params struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		count, err := svc.BuildIndex(req.AgentID, params.Path)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, map[string]int{"filesIndexed": count})

	case "create_symlink":
		var params struct {
			LinkPath   string `json:"linkPath"`
			TargetPath string `json:"targetPath"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		if err := svc.CreateSymlink(req.AgentID, params.LinkPath, params.TargetPath); err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "compute_checksum":
		var params struct {
			Path      string `json:"path"`
			Algorithm string `json:"algorithm"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		digest, err := svc.ComputeChecksum(req.AgentID, params.Path, auxops.Algorithm(params.Algorithm))
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, map[string]string{"digest": digest})

	case "verify_checksum":
		var params struct {
			Path        string `json:"path"`
			Algorithm   string `json:"algorithm"`
			ExpectedHex string `json:"expectedHex"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		result, err := svc.VerifyChecksum(req.AgentID, params.Path, auxops.Algorithm(params.Algorithm), params.ExpectedHex)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, result)

	case "analyze_disk_usage":
		var params struct {
			Path        string `json:"path"`
			Depth       int    `json:"depth"`
			GroupByType bool   `json:"groupByType"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		usage, err := svc.AnalyzeDiskUsage(req.AgentID, params.Path, params.Depth, params.GroupByType)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, usage)

	case "copy_directory":
		var params struct {
			Source           string   `json:"source"`
			Destination      string   `json:"destination"`
			PreserveMetadata bool     `json:"preserveMetadata"`
			Exclusions       []string `json:"exclusions"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		result, err := svc.CopyDirectory(req.AgentID, params.Source, params.Destination, params.PreserveMetadata, params.Exclusions)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, result)

	case "sync_directory":
		var params struct {
			Source      string   `json:"source"`
			Destination string   `json:"destination"`
			Exclusions  []string `json:"exclusions"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, err)
		}
		result, err := svc.SyncDirectory(req.AgentID, params.Source, params.Destination, params.Exclusions)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return okResponse(req.ID, result)

	default:
		return response{ID: req.ID, Ok: false, Error: "unknown operation: " + req.Operation}
	}
}

func okResponse(id string, result interface{}) response {
	return response{ID: id, Ok: true, Result: result}
}

func errorResponse(id string, err error) response {
	return response{ID: id, Ok: false, Error: err.Error()}
}
