// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"sop-platform/internal/agent/procedure"
)

// Run 逐个校验 procedure 文件并汇总全部问题
func (v *ValidateCmd) Run(cli *CLI) error {
	dir := v.Dir
	if dir == "" {
		cfg, err := loadConfig(cli.Config)
		if err != nil {
			return err
		}
		dir = cfg.Procedures.Dir
	}
	ok, failed, err := validateDir(dir)
	if err != nil {
		return err
	}
	for _, id := range ok {
		fmt.Printf("ok    %s\n", id)
	}
	for _, f := range failed {
		fmt.Printf("FAIL  %s\n", f)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d procedure file(s) invalid", len(failed))
	}
	if len(ok) == 0 {
		fmt.Printf("no procedures found in %s\n", dir)
	}
	return nil
}

// validateDir 返回有效的 procedure id 与失败描述；id 重复也视为失败
func validateDir(dir string) (ok []string, failed []string, err error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, nil, err
		}
		paths = append(paths, m...)
	}
	seen := map[string]string{}
	for _, p := range paths {
		cfg, err := procedure.LoadConfig(p)
		if err != nil {
			failed = append(failed, strings.ReplaceAll(err.Error(), "\n", "; "))
			continue
		}
		if prev, dup := seen[cfg.ID]; dup {
			failed = append(failed, fmt.Sprintf("%s: id %q already defined in %s", p, cfg.ID, prev))
			continue
		}
		seen[cfg.ID] = p
		ok = append(ok, cfg.ID)
	}
	return ok, failed, nil
}

// Run 列出 API 服务上的 procedure
func (p *ProceduresCmd) Run() error {
	list, err := newAPIClient(p.Remote).ListProcedures(context.Background())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMAX ROUNDS\tTOOLS")
	for _, d := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.ID, d.Name, d.MaxRounds, strings.Join(d.AllowedTools, ","))
	}
	return w.Flush()
}

// Run 列出会话，或显示单个会话
func (s *SessionsCmd) Run() error {
	ctx := context.Background()
	c := newAPIClient(s.Remote)
	if s.ID == "" {
		list, err := c.ListSessions(ctx, s.ProcedureID, s.Limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROCEDURE\tSTATUS\tCREATED")
		for _, sess := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sess.ID, sess.ProcedureID, sess.Status, sess.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	}
	if s.Exchanges {
		ex, err := c.GetExchanges(ctx, s.ID)
		if err != nil {
			return err
		}
		fmt.Println(prettyJSON(ex))
		return nil
	}
	sess, err := c.GetSession(ctx, s.ID)
	if err != nil {
		return err
	}
	fmt.Println(prettyJSON(sess))
	return nil
}
