package main

import "flag"
import "fmt"
import "os"

import "github.com/scialex/reenix-sub000/boot"
import "github.com/scialex/reenix-sub000/kernel"
import "github.com/scialex/reenix-sub000/limits"

func main() {
	pages := flag.Int("pages", boot.Dfltconf().Physpages,
		"physical pages")
	threads := flag.Int("threads", int(limits.MkSysLimit().Threads.Remain()),
		"thread limit")
	failalloc := flag.Bool("failalloc", false,
		"fail the first allocation from every call path")
	rounds := flag.Int("n", 1, "times to run the tests")
	stats := flag.Bool("stats", false, "print kernel counters at halt")
	flag.Parse()
	if *pages <= 0 || *threads <= 0 || *rounds <= 0 {
		fmt.Printf("Usage: proctest [-pages n] [-threads n] [-n rounds] " +
			"[-failalloc] [-stats]\n")
		os.Exit(1)
	}

	os.Exit(run(*pages, *threads, *rounds, *failalloc, *stats))
}

func run(pages, threads, rounds int, failalloc, stats bool) int {
	cfg := boot.Dfltconf()
	cfg.Physpages = pages
	cfg.Lims = &limits.Syslimit_t{Threads: limits.Sysatomic_t(threads)}
	cfg.Failalloc = failalloc
	k, err := boot.Mkkernel(cfg)
	if err != nil {
		fmt.Printf("cannot assemble kernel: %v\n", err)
		return 1
	}
	defer k.Shutdown()

	h, eno := k.Run(func(k *boot.Kernel_t) interface{} {
		var reps []*kernel.Report_t
		for i := 0; i < rounds; i++ {
			reps = append(reps, kernel.Run(k, kernel.Proctests()))
		}
		return reps
	})
	if eno != 0 {
		fmt.Printf("boot failed: errno %d\n", -eno)
		return 1
	}
	if h.Fatal != nil {
		fmt.Printf("kernel panic: %v\n%s", h.Fatal, h.Stack)
		return 2
	}
	ok := true
	for i, r := range h.Val.([]*kernel.Report_t) {
		fmt.Printf("round %d:\n%v", i, r)
		ok = ok && r.Ok()
	}
	if stats {
		fmt.Printf("%v\n", k)
	}
	if !ok {
		return 3
	}
	return 0
}
