package safety

import "testing"

func kubectlRules() ToolRules {
	return ToolRules{
		Read:      []string{"get", "list", "describe", "logs"},
		Write:     []string{"apply", "create", "scale"},
		Delete:    []string{"delete"},
		Dangerous: []string{"exec", "port-forward"},
	}
}

func TestClassifyToolSpecificRead(t *testing.T) {
	c := NewToolClassifier()
	c.AddToolRules("kubectl", kubectlRules())

	result := c.Classify("kubectl get pods")
	if result.Class != ActionRead {
		t.Fatalf("expected read, got %s", result.Class)
	}
	if result.Source != SourceToolSpecific {
		t.Fatalf("expected tool-specific source, got %s", result.Source)
	}
}

func TestClassifyToolSpecificDelete(t *testing.T) {
	c := NewToolClassifier()
	c.AddToolRules("kubectl", kubectlRules())

	result := c.Classify("kubectl delete pod my-pod")
	if result.Class != ActionDelete {
		t.Fatalf("expected delete, got %s", result.Class)
	}
}

func TestClassifyToolSpecificDangerous(t *testing.T) {
	c := NewToolClassifier()
	c.AddToolRules("kubectl", kubectlRules())

	result := c.Classify("kubectl exec -it my-pod -- bash")
	if result.Class != ActionDangerous {
		t.Fatalf("expected dangerous, got %s", result.Class)
	}
}

func TestClassifyGenericDangerous(t *testing.T) {
	c := NewToolClassifier()
	result := c.Classify("rm -rf /tmp/test")
	if result.Class != ActionDangerous {
		t.Fatalf("expected dangerous, got %s", result.Class)
	}
}

func TestClassifyGenericRead(t *testing.T) {
	c := NewToolClassifier()
	result := c.Classify("some-tool list items")
	if result.Class != ActionRead {
		t.Fatalf("expected read, got %s", result.Class)
	}
}

func TestClassifyUnknownDefaultsToWrite(t *testing.T) {
	c := NewToolClassifier()
	result := c.Classify("unknown-tool unknown-command")
	if result.Class != ActionWrite {
		t.Fatalf("expected write, got %s", result.Class)
	}
	if result.Source != SourceDefault {
		t.Fatalf("expected default source, got %s", result.Source)
	}
}

func TestClassifyEmptyCommandIsRead(t *testing.T) {
	c := NewToolClassifier()
	result := c.Classify("  ")
	if result.Class != ActionRead {
		t.Fatalf("expected read for empty command, got %s", result.Class)
	}
}

func TestActionClassRiskLevels(t *testing.T) {
	cases := map[ActionClass]int{
		ActionRead: 0, ActionWrite: 1, ActionDelete: 2, ActionDangerous: 3,
	}
	for class, want := range cases {
		if got := class.RiskLevel(); got != want {
			t.Fatalf("%s: expected risk %d, got %d", class, want, got)
		}
	}
}
