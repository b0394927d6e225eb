package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
)

func cmdPublishBundle(args []string) {
	var baseURL, bundleID, file string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--http":
			i++
			if i >= len(args) {
				flagErr("--http")
			}
			baseURL = args[i]
		case "--bundle-id":
			i++
			if i >= len(args) {
				flagErr("--bundle-id")
			}
			bundleID = args[i]
		case "--file":
			i++
			if i >= len(args) {
				flagErr("--file")
			}
			file = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if baseURL == "" {
		flagErr("--http")
	}
	if bundleID == "" {
		flagErr("--bundle-id")
	}
	if file == "" {
		flagErr("--file")
	}

	body, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPut, baseURL+"/v1/registry/bundles/"+bundleID, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		fmt.Fprintf(os.Stderr, "publish-bundle: http %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(1)
	}

	var report struct {
		BundleID string                       `json:"BundleID"`
		Results  map[string]map[string]string `json:"Results"`
	}
	if err := json.Unmarshal(respBody, &report); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("bundle_id=%s\n", report.BundleID)
	typeIDs := make([]string, 0, len(report.Results))
	for typeID := range report.Results {
		typeIDs = append(typeIDs, typeID)
	}
	sort.Strings(typeIDs)
	for _, typeID := range typeIDs {
		for version, result := range report.Results[typeID] {
			fmt.Printf("type=%s version=%s result=%s\n", typeID, version, result)
		}
	}
}

func cmdGetBundle(args []string) {
	var baseURL, bundleID string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--http":
			i++
			if i >= len(args) {
				flagErr("--http")
			}
			baseURL = args[i]
		case "--bundle-id":
			i++
			if i >= len(args) {
				flagErr("--bundle-id")
			}
			bundleID = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if baseURL == "" {
		flagErr("--http")
	}
	if bundleID == "" {
		flagErr("--bundle-id")
	}

	resp, err := http.Get(baseURL + "/v1/registry/bundles/" + bundleID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "get-bundle: http %d: %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdGetDescriptor(args []string) {
	var baseURL, typeID, version string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--http":
			i++
			if i >= len(args) {
				flagErr("--http")
			}
			baseURL = args[i]
		case "--type":
			i++
			if i >= len(args) {
				flagErr("--type")
			}
			typeID = args[i]
		case "--type-version":
			i++
			if i >= len(args) {
				flagErr("--type-version")
			}
			version = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if baseURL == "" {
		flagErr("--http")
	}
	if typeID == "" {
		flagErr("--type")
	}
	if version == "" {
		flagErr("--type-version")
	}

	resp, err := http.Get(baseURL + "/v1/registry/types/" + typeID + "/versions/" + version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "get-descriptor: http %d: %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}
	fmt.Println(string(body))
}
