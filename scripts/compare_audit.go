//go:build ignore

package main

import (
	"fmt"
	"os"
	"slices"

	"QuorumGate/internal/audit"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <store dir | archive.qga> <store dir | archive.qga>\n", os.Args[0])
		os.Exit(1)
	}

	dets1, outs1, err := load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	dets2, outs2, err := load(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	fmt.Printf("A (%s): %d outcomes, %d detections\n", os.Args[1], len(outs1), len(dets1))
	fmt.Printf("B (%s): %d outcomes, %d detections\n", os.Args[2], len(outs2), len(dets2))

	onlyA, onlyB, different := compare(outcomeIndex(outs1), outcomeIndex(outs2))
	detA, detB, _ := compare(detectionIndex(dets1), detectionIndex(dets2))

	if len(onlyA)+len(onlyB)+len(different)+len(detA)+len(detB) == 0 {
		fmt.Println("\n✓ Audit logs agree")
		os.Exit(0)
	}

	fmt.Println("\n✗ Audit logs differ:")
	printKeys("Outcomes only in A", onlyA)
	printKeys("Outcomes only in B", onlyB)
	printKeys("Outcomes with different results", different)
	printKeys("Detections only in A", detA)
	printKeys("Detections only in B", detB)

	os.Exit(1)
}

// load reads a store directory or an exported archive.
func load(path string) ([]audit.Detection, []audit.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		return audit.Import(data)
	}

	store, err := audit.OpenStore(path)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	dets, err := store.Detections(0)
	if err != nil {
		return nil, nil, err
	}

	outs, err := store.Outcomes(0)
	if err != nil {
		return nil, nil, err
	}

	return dets, outs, nil
}

// outcomeIndex keys outcomes by request id. Sequence numbers and timing are ignored.
func outcomeIndex(outs []audit.Record) map[string]string {
	m := make(map[string]string, len(outs))
	for _, o := range outs {
		m[o.RequestID] = fmt.Sprintf("%t/%s/%v/%s", o.Certified, o.Reason, o.Signers, o.TxDigest)
	}
	return m
}

// detectionIndex keys detections by request, node and kind.
func detectionIndex(dets []audit.Detection) map[string]string {
	m := make(map[string]string, len(dets))
	for _, d := range dets {
		m[d.RequestID+"/"+d.NodeID+"/"+d.Kind] = d.Detail
	}
	return m
}

func compare(a, b map[string]string) (onlyA, onlyB, different []string) {
	for k, va := range a {
		vb, ok := b[k]
		switch {
		case !ok:
			onlyA = append(onlyA, k)
		case va != vb:
			different = append(different, k)
		}
	}

	for k := range b {
		if _, ok := a[k]; !ok {
			onlyB = append(onlyB, k)
		}
	}

	slices.Sort(onlyA)
	slices.Sort(onlyB)
	slices.Sort(different)

	return
}

func printKeys(title string, keys []string) {
	if len(keys) == 0 {
		return
	}

	fmt.Printf("  - %s: %d\n", title, len(keys))
	for _, k := range keys {
		fmt.Printf("      %s\n", k)
	}
}
