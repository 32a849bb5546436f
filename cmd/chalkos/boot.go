package main

import (
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/minoca/chalkos/manifest"
	"github.com/minoca/chalkos/ps"
	"github.com/minoca/chalkos/vm"
)

// runBoot brings up a simulated process system seeded from the
// manifest, runs the script phases inside an init process, and prints
// the process table and accounting records.
func runBoot(m *manifest.Manifest, verbose bool) int {
	log := commonlog.GetLogger("boot")
	system := ps.NewSystem()
	defer system.Shutdown()

	if err := system.RootRealm().SetNames(ps.Identity{}, m.System.HostName, m.System.DomainName); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	var acct *ps.Accountant
	if path := m.AccountingDBPath(); path != "" {
		var err error
		acct, err = ps.OpenAccountant(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		system.SetAccountant(acct)
	}

	initProc, err := system.CreateProcess(ps.CreateProcessArgs{
		CommandLine: []string{"/bin/init"},
		Environment: []string{"CHALKOS_MANIFEST=" + m.Dir},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	phasesDone := make(chan error, 1)
	release := make(chan struct{})
	thread, err := initProc.CreateThread(func(self *ps.Thread) {
		interp := vm.NewInterpreter()
		defer interp.Destroy()
		_, runErr := runManifest(interp, m, verbose)
		phasesDone <- runErr
		<-release
		if runErr != nil {
			self.ExitProcess(1)
		}
		self.ExitProcess(0)
	}, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	status := 0
	if runErr := <-phasesDone; runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		status = 1
	}

	hostname, domain := system.RootRealm().Names()
	fmt.Printf("host %s.%s\n", hostname, domain)
	if err := dumpProcessTable(system); err != nil {
		log.Errorf("process table: %v", err)
	}

	close(release)
	thread.Join()
	exit := initProc.ExitStatus()
	log.Debugf("init exited: %s status %d", exit.Reason, exit.Status)

	if acct != nil {
		if err := printAccounting(acct); err != nil {
			log.Errorf("accounting: %v", err)
		}
	}
	return status
}

// dumpProcessTable prints a ps-style listing decoded from the
// information-query snapshot.
func dumpProcessTable(system *ps.System) error {
	size, _ := system.GetAllProcessInformation(ps.ProcessInformationVersion, nil)
	buf := make([]byte, size)
	n, err := system.GetAllProcessInformation(ps.ProcessInformationVersion, buf)
	if err != nil {
		return err
	}
	list, err := ps.DecodeProcessInformationList(buf[:n])
	if err != nil {
		return err
	}
	fmt.Printf("%5s %5s %5s %5s %4s %s\n", "PID", "PPID", "PGID", "SID", "THR", "NAME")
	for _, info := range list {
		fmt.Printf("%5d %5d %5d %5d %4d %s\n",
			info.ProcessID, info.ParentID, info.GroupID, info.SessionID,
			info.ThreadCount, info.BinaryName)
	}
	return nil
}

// inspectAccounting opens an accounting database and lists its records.
func inspectAccounting(path string) int {
	acct, err := ps.OpenAccountant(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer acct.Close()
	if err := printAccounting(acct); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// printAccounting lists the persisted termination records.
func printAccounting(acct *ps.Accountant) error {
	records, err := acct.Records()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	fmt.Printf("%5s %-20s %-10s %s\n", "PID", "NAME", "REASON", "STATUS")
	for _, r := range records {
		fmt.Printf("%5d %-20s %-10s %d\n", r.ProcessID, r.BinaryName, r.ExitReason, r.ExitStatus)
	}
	return nil
}
