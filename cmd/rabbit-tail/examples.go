package main

import (
	"fmt"
	"io"
	"sort"

	"rabbittail/internal/constants"
	"rabbittail/pkg/cel"
)

type example struct {
	title   string
	command string
}

var usageExamples = []example{
	{"Basic usage", "--host RABBIT_HOST --binding myExchange:myRoutingKey"},
	{"Multiple routing keys", "--host RABBIT_HOST --binding myExchange:routingKey1,routingKey2,routingKeyN"},
	{"Multiple exchanges", "-b orders:order.* -b audit"},
	{"Legacy single exchange", "--exchange myExchange --routing-keys key1,key2"},
	{"Print one field", "-b orders --filter content.customer.email"},
	{"Search a field", "-b orders --filter 'content.status=fail(ed|ure)'"},
	{"CEL predicate", "-b orders --where 'content.amount > 100' --pretty"},
	{"Stop after ten messages", "-b orders --auto-stop 10"},
	{"Credentials and vhost", "--host rabbit.internal:5673 --vhost staging --auth user:password -b orders"},
}

func printExamples(w io.Writer) {
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w)
	for _, ex := range usageExamples {
		fmt.Fprintln(w, ex.title)
		fmt.Fprintf(w, "%s %s\n\n", constants.ServiceName, ex.command)
	}

	fmt.Fprintln(w, "--where expressions:")
	names := make([]string, 0, len(cel.FilterExpressionExamples))
	for name := range cel.FilterExpressionExamples {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-20s %s\n", name, cel.FilterExpressionExamples[name])
	}
}
